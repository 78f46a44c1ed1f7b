// Package watch 监视目录中的 XML 输入与示例文件，变化后（去抖）触发展开或示例缓存失效。
package watch

import (
	"context"
	"crypto/sha256"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"dipexpand/internal/diag"
)

// DefaultDebounce 同一文件连续变化合并为一次处理的时间窗。
const DefaultDebounce = 500 * time.Millisecond

// Options 监视参数。
type Options struct {
	// Dirs 递归监视的目录。
	Dirs []string
	// ExampleFiles 示例文件（项目/学习/个人）；变化时调用 OnExamples 而非 OnFile。
	ExampleFiles []string
	Debounce     time.Duration
	// ExcludeDirNames 跳过的目录名；nil 使用默认。
	ExcludeDirNames []string
	// Wants 判定文件是否为待展开输入；nil 时为 *.xml 且非 *_expanded.xml。
	Wants      func(name string) bool
	OnFile     func(ctx context.Context, path string) error
	OnExamples func(path string)
	Logger     *diag.Logger
}

// Watcher 单协程处理事件；OnFile 串行调用。
type Watcher struct {
	opts     Options
	fsw      *fsnotify.Watcher
	logger   *diag.Logger
	excludes map[string]bool
	examples map[string]bool

	mu      sync.Mutex
	pending map[string]change
	hashes  map[string][sha256.Size]byte
}

// change 一个路径在去抖窗口内累积的操作与最后一次事件时间。
type change struct {
	op   fsnotify.Op
	last time.Time
}

// DefaultWants *.xml（不区分大小写）且不是已展开产物。
func DefaultWants(name string) bool {
	low := strings.ToLower(filepath.Base(name))
	return strings.HasSuffix(low, ".xml") && !strings.HasSuffix(low, "_expanded.xml")
}

// New 创建 Watcher 并登记目录；需调用 Run 开始处理。
func New(opts Options) (*Watcher, error) {
	if opts.OnFile == nil {
		return nil, errors.New("watch: OnFile required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Wants == nil {
		opts.Wants = DefaultWants
	}
	if opts.ExcludeDirNames == nil {
		opts.ExcludeDirNames = []string{".git", "node_modules", "vendor"}
	}
	lg := opts.Logger
	if lg == nil {
		lg = diag.Nop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		opts:     opts,
		fsw:      fsw,
		logger:   lg,
		excludes: make(map[string]bool, len(opts.ExcludeDirNames)),
		examples: make(map[string]bool, len(opts.ExampleFiles)),
		pending:  make(map[string]change),
		hashes:   make(map[string][sha256.Size]byte),
	}
	for _, d := range opts.ExcludeDirNames {
		w.excludes[d] = true
	}
	for _, d := range opts.Dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			_ = fsw.Close()
			return nil, err
		}
		if err := w.addRecursive(abs); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	// 示例文件监视其所在目录：编辑器常以 rename 方式保存
	for _, f := range opts.ExampleFiles {
		if f == "" {
			continue
		}
		abs, err := filepath.Abs(f)
		if err != nil {
			continue
		}
		w.examples[abs] = true
		if err := fsw.Add(filepath.Dir(abs)); err != nil {
			w.logger.Warn("watch", "examples dir not watched", map[string]string{"path": abs, "err": err.Error()})
		}
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (w.excludes[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("watch", "dir not watched", map[string]string{"path": path, "err": err.Error()})
		}
		return nil
	})
}

// Run 处理事件直至 ctx 取消；返回前关闭底层 watcher。
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	ticker := time.NewTicker(max(w.opts.Debounce/2, 10*time.Millisecond))
	defer ticker.Stop()
	timer := w.logger.StartWithKV("watch", "run", "", "", map[string]string{"dirs": strings.Join(w.opts.Dirs, ",")})
	handled := 0
	for {
		select {
		case <-ctx.Done():
			timer.Finish("stopped", handled)
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch", "watcher error", map[string]string{"err": err.Error()})
		case now := <-ticker.C:
			handled += w.flush(ctx, now)
		}
	}
}

// handle 累积待处理路径；新建目录补充监视。
func (w *Watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if w.examples[path] {
		if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
			w.mark(path, ev.Op)
		}
		return
	}
	if ev.Has(fsnotify.Create) {
		if st, err := os.Stat(path); err == nil && st.IsDir() {
			if !w.excludes[filepath.Base(path)] && !strings.HasPrefix(filepath.Base(path), ".") {
				_ = w.addRecursive(path)
			}
			return
		}
	}
	if !w.opts.Wants(path) {
		return
	}
	if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
		w.mark(path, ev.Op)
	}
}

func (w *Watcher) mark(path string, op fsnotify.Op) {
	w.mu.Lock()
	c := w.pending[path]
	c.op |= op
	c.last = time.Now()
	w.pending[path] = c
	w.mu.Unlock()
	w.logger.DebugStart("watch", "change", path, "", map[string]string{"op": op.String()})
}

// flush 处理静默超过去抖窗口的路径；返回触发展开的文件数。
func (w *Watcher) flush(ctx context.Context, now time.Time) int {
	w.mu.Lock()
	var ready []string
	for path, c := range w.pending {
		if now.Sub(c.last) >= w.opts.Debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()
	sort.Strings(ready)

	n := 0
	for _, path := range ready {
		if ctx.Err() != nil {
			return n
		}
		if w.examples[path] {
			if w.opts.OnExamples != nil {
				w.opts.OnExamples(path)
			}
			diag.IncOp("watch", "examples", "success")
			continue
		}
		b, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				w.logger.Warn("watch", "read failed", map[string]string{"path": path, "err": err.Error()})
			}
			continue
		}
		// 内容未变（例如仅 touch）不重复展开
		sum := sha256.Sum256(b)
		if old, ok := w.hashes[path]; ok && old == sum {
			continue
		}
		w.hashes[path] = sum
		n++
		if err := w.opts.OnFile(ctx, path); err != nil {
			w.logger.ErrorWith("watch", string(diag.Classify(err)), "expand failed", nil, path, "")
			diag.IncOp("watch", "expand", "error")
			continue
		}
		diag.IncOp("watch", "expand", "success")
	}
	return n
}
