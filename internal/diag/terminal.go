package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/width"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认建议 stderr）。
// - TTY: 单行 \r 覆盖；非 TTY: 关键节点分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	concurrency int
	backend     string
	filesDone   int
	runStart    time.Time

	// 当前文件
	curFileID string
	passes    int
	pass      int
	blocks    int
	done      int

	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器。
// enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") != "" {
		t.isTTY = false
	} else if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil {
			t.isTTY = fi.Mode()&os.ModeCharDevice != 0
		}
	}
	return t
}

// RunStart: 记录运行上下文（并发、后端）。
func (t *Terminal) RunStart(concurrency int, backend string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.concurrency = concurrency
	t.backend = backend
	t.filesDone = 0
	t.runStart = time.Now()
	t.println(fmt.Sprintf("[run] 并发=%d | backend=%s", concurrency, safe(backend)))
}

// FileStart: 标记当前文件与计划遍数。
func (t *Terminal) FileStart(fileID string, passes int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.curFileID = shortenBase(fileID, 48)
	t.passes = passes
	t.pass, t.blocks, t.done = 0, 0, 0
	if !t.isTTY {
		t.println(fmt.Sprintf("[file] %s | 计划遍数=%d", t.curFileID, passes))
	}
}

// FileProgress: 块级进度（TTY 下 ≥100ms 节流；最后一块总是刷新）。
func (t *Terminal) FileProgress(pass, done, total int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || !t.isTTY {
		return
	}
	t.pass, t.done, t.blocks = pass, done, total
	now := time.Now()
	if done < total && now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	line := fmt.Sprintf("[file] %s | 遍 %d/%d | 块 %d/%d | 并发 %d | 用时 %s",
		t.curFileID, t.pass, t.passes, t.done, t.blocks, t.concurrency, formatSince(t.runStart))
	t.printInline(line)
}

// FileFinish: 完成当前文件（立即刷新并换行；filesDone++）。
func (t *Terminal) FileFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.filesDone++
	status := "done"
	if !ok {
		status = "fail"
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	t.println(fmt.Sprintf("[%s] %s | 遍数 %d | 总用时 %s", status, t.curFileID, t.passes, formatDur(dur)))
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	tag := "ok"
	if !ok {
		tag = "fail"
	}
	t.println(fmt.Sprintf("[%s] 全部完成 | 文件 %d | 总用时 %s", tag, t.filesDone, formatDur(dur)))
}

func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
	t.lastLen = 0
}

// printInline: \r + 内容；新行比旧行短时以空格清尾。
func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shortenBase 取基名，超过 max 列时截断并以省略号结尾。
func shortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	base := filepath.Base(strings.TrimSpace(s))
	if base == "." {
		return ""
	}
	if visLen(base) <= max {
		return base
	}
	var b strings.Builder
	w := 0
	for _, r := range base {
		rw := runeWidth(r)
		if w+rw > max-1 {
			break
		}
		b.WriteRune(r)
		w += rw
	}
	return b.String() + "…"
}

// visLen 终端列宽：东亚宽字符与全角字符占两列。
func visLen(s string) int {
	n := 0
	for _, r := range s {
		n += runeWidth(r)
	}
	return n
}

func runeWidth(r rune) int {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return 2
	}
	return 1
}

func safe(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	s := float64(d.Milliseconds()) / 1000.0
	return fmt.Sprintf("%.1fs", s)
}
