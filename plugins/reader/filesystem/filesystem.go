// Package filesystem 从文件系统与 STDIN 读取待展开的 XML 文档。
package filesystem

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dipexpand/pkg/contract"
)

// DefaultExcludeSuffixes 目录扫描时跳过的产物文件。
var DefaultExcludeSuffixes = []string{"_expanded.xml"}

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames: 在扫描目录时跳过这些目录名（基名完全匹配，不区分大小写）。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// Extensions: 目录扫描只收集这些扩展名，默认 [".xml"]。
	Extensions []string `json:"extensions"`
	// ExcludeSuffixes: 目录扫描跳过以这些后缀结尾的文件名，默认 ["_expanded.xml"]。
	ExcludeSuffixes []string `json:"exclude_suffixes"`
}

// FileSystem 实现基于文件系统与 STDIN 的 Reader。
// 显式给出的文件 root 总是读取；扩展名与后缀过滤只作用于目录扫描。
type FileSystem struct {
	bufSize int
	// 以下均以小写保存，按小写基名匹配。
	excludeDir map[string]struct{}
	exts       []string
	skipSuffix []string
}

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	const defaultBuf = 64 * 1024
	o := Options{}
	if opts != nil {
		o = *opts
	}
	b := defaultBuf
	if o.BufSize > 0 {
		b = o.BufSize
	}
	ex := make(map[string]struct{})
	for _, name := range o.ExcludeDirNames {
		if name != "" {
			ex[strings.ToLower(name)] = struct{}{}
		}
	}
	exts := o.Extensions
	if len(exts) == 0 {
		exts = []string{".xml"}
	}
	suffixes := o.ExcludeSuffixes
	if suffixes == nil {
		suffixes = DefaultExcludeSuffixes
	}
	return &FileSystem{bufSize: b, excludeDir: ex, exts: lowerAll(exts), skipSuffix: lowerAll(suffixes)}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Wants 判断目录扫描是否收集该文件名。
func (r *FileSystem) Wants(name string) bool {
	n := strings.ToLower(filepath.Base(name))
	for _, s := range r.skipSuffix {
		if strings.HasSuffix(n, s) {
			return false
		}
	}
	for _, e := range r.exts {
		if strings.HasSuffix(n, e) {
			return true
		}
	}
	return false
}

// Iterate 遍历 roots，按稳定顺序对每个常规文件调用 yield。
// 支持 roots 为空或仅包含 "-" 作为 STDIN。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		return yield(contract.FileID("stdin"), newBufferedCloser(os.Stdin, r.bufSize))
	}
	// 禁止与其他根混用 "-"
	for _, s := range roots {
		if s == "-" {
			return errors.New("stdin '-' cannot be mixed with other roots")
		}
	}
	for _, root := range roots {
		if err := r.iterateOne(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) iterateOne(ctx context.Context, root string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Lstat(root)
	if err != nil {
		return err
	}
	// 仅跟随到常规文件；目录符号链接不跟随（忽略）
	if info.Mode()&os.ModeSymlink != 0 {
		t, err := os.Stat(root)
		if err != nil {
			return err
		}
		if !t.Mode().IsRegular() {
			return nil
		}
		return r.open(root, yield)
	}
	if info.IsDir() {
		return r.walkDir(ctx, root, yield)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return r.open(root, yield)
}

func (r *FileSystem) open(p string, yield func(contract.FileID, io.ReadCloser) error) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	brc := newBufferedCloser(f, r.bufSize)
	if err := yield(contract.NormalizeFileID(p), brc); err != nil {
		_ = brc.Close()
		return err
	}
	return nil
}

func (r *FileSystem) walkDir(ctx context.Context, dir string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	// 稳定顺序：字典序
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	// 先目录（不跟随目录符号链接）
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.IsDir() {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		if err := r.walkDir(ctx, filepath.Join(dir, e.Name()), yield); err != nil {
			return err
		}
	}
	// 再文件（允许指向常规文件的符号链接；目录符号链接忽略）
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() || !r.Wants(e.Name()) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				return err
			}
			if !t.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			continue
		}
		if err := r.open(p, yield); err != nil {
			return err
		}
	}
	return nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
