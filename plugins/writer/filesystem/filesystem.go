package filesystem

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"dipexpand/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// OutputDir: 输出根目录；"-" 表示写入标准输出。Beside 为 false 时必需。
	OutputDir string `json:"output_dir"`
	// Beside: 产物与输入文件同目录（忽略 OutputDir 与 Flat），需配合 Suffix 避免覆盖输入。
	Beside bool `json:"beside,omitempty"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。默认 true。
	Atomic *bool `json:"atomic,omitempty"`
	// Flat: 是否扁平化输出（仅保留文件名）。默认 true。
	Flat *bool `json:"flat,omitempty"`
	// Suffix: 追加在文件主名与扩展名之间的后缀，如 "_expanded"。
	Suffix string `json:"suffix,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用平台默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用实现默认。
	BufSize int `json:"buf_size,omitempty"`
}

type FS struct {
	root    string
	atomic  bool
	flat    bool
	beside  bool
	suffix  string
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
	stdout  io.Writer
}

// New 创建文件系统 Writer 实现。
func New(opts *Options) (*FS, error) {
	if opts == nil || (strings.TrimSpace(opts.OutputDir) == "" && !opts.Beside) {
		return nil, os.ErrInvalid
	}
	if opts.Beside && opts.Suffix == "" {
		return nil, os.ErrInvalid
	}
	w := &FS{
		root:    opts.OutputDir,
		atomic:  true,
		flat:    true,
		beside:  opts.Beside,
		suffix:  opts.Suffix,
		permF:   opts.PermFile,
		permD:   opts.PermDir,
		bufSize: opts.BufSize,
		stdout:  os.Stdout,
	}
	if w.bufSize <= 0 {
		w.bufSize = 64 * 1024
	}
	if w.permF == 0 {
		w.permF = 0o644
	}
	if w.permD == 0 {
		w.permD = 0o755
	}
	if opts.Flat != nil {
		w.flat = *opts.Flat
	}
	if opts.Atomic != nil {
		w.atomic = *opts.Atomic
	}
	return w, nil
}

var _ contract.Writer = (*FS)(nil)

// Write 将 r 的全部字节写入到基于 id 映射的目标路径。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if w.root == "-" && !w.beside {
		_, err := io.Copy(w.stdout, readerWithCtx(ctx, r))
		return err
	}

	dest, err := w.mapPath(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return err
	}
	if w.atomic {
		return w.writeAtomic(ctx, dest, r)
	}
	return w.writeOverwrite(ctx, dest, r)
}

// Target 返回 id 的最终落盘路径（不写入）。
func (w *FS) Target(id contract.ArtifactID) (string, error) {
	if w.root == "-" && !w.beside {
		return "-", nil
	}
	return w.mapPath(id)
}

// mapPath: Clean + 后缀 + Join + 越界校验。
func (w *FS) mapPath(id contract.ArtifactID) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(string(id)))
	if w.beside {
		base := filepath.Base(rel)
		if id == "stdin" || base == "." || base == ".." || base == string(filepath.Separator) {
			return "", contract.ErrPathInvalid
		}
		return withSuffix(rel, w.suffix), nil
	}
	if w.flat {
		rel = filepath.Base(rel)
		if rel == "." || rel == ".." || rel == "" || rel == string(filepath.Separator) {
			return "", contract.ErrPathInvalid
		}
		return filepath.Join(w.root, withSuffix(rel, w.suffix)), nil
	}
	// 非扁平：禁止绝对路径、父级逃逸、Windows 卷名
	if rel == "." || rel == "" || filepath.IsAbs(rel) {
		return "", contract.ErrPathInvalid
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", contract.ErrPathInvalid
	}
	if vol := filepath.VolumeName(rel); vol != "" {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, withSuffix(rel, w.suffix)), nil
}

func withSuffix(p, suffix string) string {
	if suffix == "" {
		return p
	}
	ext := filepath.Ext(p)
	return strings.TrimSuffix(p, ext) + suffix + ext
}

func (w *FS) writeOverwrite(ctx context.Context, dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriterSize(f, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return err
	}
	return bw.Flush()
}

func (w *FS) writeAtomic(ctx context.Context, dest string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, w.permF)

	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := commitTemp(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// WriteFileAtomic 以原子替换方式写入单个文件（父目录不存在时创建）。
func WriteFileAtomic(ctx context.Context, path string, data []byte) error {
	w, err := New(&Options{OutputDir: filepath.Dir(path)})
	if err != nil {
		return err
	}
	return w.Write(ctx, contract.ArtifactID(filepath.Base(path)), bytes.NewReader(data))
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}
	return cr.r.Read(p)
}
