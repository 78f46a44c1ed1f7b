package diag

import (
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 结构化日志器：单行 JSON（zap 编码），默认写入 logs/ 下的轮转文件。
// 字段约定：corr_id, comp, stage(start|finish|error|warn), code, dur_ms, count, file_id, block, kv。
// 方法对 nil 接收者安全。
type Logger struct {
	z     *zap.Logger
	level zap.AtomicLevel
	sink  *RotatingFile
}

// NewLogger 通过配置的 level 初始化，并将日志写入默认路径 logs，10 MiB 轮转。
func NewLogger(corrID, level string) *Logger {
	sink := NewRotatingFile("logs", 10*1024*1024)
	l := newLogger(sink, corrID, level)
	l.sink = sink
	return l
}

// NewLoggerTo 写入任意 io.Writer（测试与 stderr 输出）。
func NewLoggerTo(w io.Writer, corrID, level string) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return newLogger(zapcore.AddSync(w), corrID, level)
}

// Nop 丢弃全部输出。
func Nop() *Logger {
	return &Logger{z: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.FatalLevel)}
}

func newLogger(ws zapcore.WriteSyncer, corrID, level string) *Logger {
	lvl := zap.NewAtomicLevelAt(parseLevel(level))
	enc := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), ws, lvl)
	z := zap.New(core).With(zap.String("corr_id", corrID))
	return &Logger{z: z, level: lvl}
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetLevel 运行期调整级别。
func (l *Logger) SetLevel(level string) {
	if l == nil {
		return
	}
	l.level.SetLevel(parseLevel(level))
}

// Sync 刷新缓冲并关闭文件 sink。
func (l *Logger) Sync() error {
	if l == nil || l.z == nil {
		return nil
	}
	_ = l.z.Sync()
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}

func (l *Logger) log(lv zapcore.Level, msg string, fields ...zap.Field) {
	if l == nil || l.z == nil {
		return
	}
	if ce := l.z.Check(lv, msg); ce != nil {
		ce.Write(fields...)
	}
}

func scope(comp, stage, fileID, block string, kv map[string]string) []zap.Field {
	fs := make([]zap.Field, 0, 5)
	fs = append(fs, zap.String("comp", comp), zap.String("stage", stage))
	if fileID != "" {
		fs = append(fs, zap.String("file_id", fileID))
	}
	if block != "" {
		fs = append(fs, zap.String("block", block))
	}
	if len(kv) > 0 {
		fs = append(fs, zap.Any("kv", kv))
	}
	return fs
}

func since(t *time.Time) zap.Field {
	if t == nil {
		return zap.Skip()
	}
	return zap.Int64("dur_ms", time.Since(*t).Milliseconds())
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWithKV(comp, msg, "", "", nil)
}

// StartWith 记录带 file_id/block 的 start。
func (l *Logger) StartWith(comp, msg, fileID, block string) *Timer {
	return l.StartWithKV(comp, msg, fileID, block, nil)
}

// StartWithKV 记录带 file_id/block 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID, block string, kv map[string]string) *Timer {
	l.log(zapcore.InfoLevel, msg, scope(comp, "start", fileID, block, kv)...)
	return &Timer{l: l, comp: comp, fileID: fileID, block: block, t0: time.Now()}
}

// Warn 记录可恢复问题（学习失败、损坏的学习文件等）。
func (l *Logger) Warn(comp, msg string, kv map[string]string) {
	l.log(zapcore.WarnLevel, msg, scope(comp, "warn", "", "", kv)...)
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", "", nil)
}

// ErrorWith 支持 file_id/block。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID, block string) {
	l.ErrorWithKV(comp, code, msg, durSince, fileID, block, nil)
}

// ErrorWithKV 支持附带键值对（例如 HTTP 状态码、上游错误片段）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID, block string, kv map[string]string) {
	fs := append(scope(comp, "error", fileID, block, kv), zap.String("code", code), since(durSince))
	l.log(zapcore.ErrorLevel, msg, fs...)
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	fs := append(scope(comp, "finish", "", "", nil), since(&start), zap.Int64("count", count))
	l.log(zapcore.InfoLevel, msg, fs...)
}

// DebugStart 输出调试级别的 start 类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, fileID, block string, kv map[string]string) {
	l.log(zapcore.DebugLevel, msg, scope(comp, "start", fileID, block, kv)...)
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	block  string
	t0     time.Time
}

// Finish 记录 finish；count 可为 0。
func (t *Timer) Finish(msg string, count int) {
	if t == nil || t.l == nil {
		return
	}
	fs := append(scope(t.comp, "finish", t.fileID, t.block, nil), since(&t.t0), zap.Int("count", count))
	t.l.log(zapcore.InfoLevel, msg, fs...)
	ObserveDuration(t.comp, "finish", time.Since(t.t0).Milliseconds())
}
