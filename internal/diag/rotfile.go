package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	currentLogName = "dipexpand-current.log"
	rotatedPrefix  = "dipexpand-"
	// DefaultKeepRotated 轮转后保留的历史文件数。
	DefaultKeepRotated = 5
)

// RotatingFile 是按大小轮转的日志落盘目标，实现 zapcore.WriteSyncer。
// 当前文件写满 maxBytes 后改名为 dipexpand-<UTC 时间戳>.log，仅保留最近 keep 份。
type RotatingFile struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	keep     int
	f        *os.File
	size     int64
}

// NewRotatingFile 在 dir 下写日志；maxBytes<=0 取 10 MiB。
func NewRotatingFile(dir string, maxBytes int64) *RotatingFile {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &RotatingFile{dir: dir, maxBytes: maxBytes, keep: DefaultKeepRotated}
}

func (w *RotatingFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return 0, err
	}
	// 单条超过上限时也整条写入当前文件，不拆分
	if w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingFile) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	return w.f.Sync()
}

func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *RotatingFile) ensureOpen() error {
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(w.dir, currentLogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f, w.size = f, 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	return nil
}

func (w *RotatingFile) rotate() error {
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
		ts := time.Now().UTC().Format("20060102-150405.000000000")
		cur := filepath.Join(w.dir, currentLogName)
		if err := os.Rename(cur, filepath.Join(w.dir, rotatedPrefix+ts+".log")); err != nil {
			return fmt.Errorf("rotate log: %w", err)
		}
		w.prune()
	}
	return w.ensureOpen()
}

// prune 删除超出 keep 的最旧轮转文件；时间戳定长，字典序即时间序。
func (w *RotatingFile) prune() {
	if w.keep <= 0 {
		return
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	var old []string
	for _, e := range entries {
		n := e.Name()
		if n != currentLogName && strings.HasPrefix(n, rotatedPrefix) && strings.HasSuffix(n, ".log") {
			old = append(old, n)
		}
	}
	if len(old) <= w.keep {
		return
	}
	sort.Strings(old)
	for _, n := range old[:len(old)-w.keep] {
		_ = os.Remove(filepath.Join(w.dir, n))
	}
}
