package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cfgpkg "dipexpand/internal/config"
	"dipexpand/internal/diag"
	"dipexpand/internal/pipeline"
	"dipexpand/pkg/contract"
)

// 退出码：0 成功；1 运行期失败；2 取消；3 配置错误。
const (
	exitOK        = 0
	exitRuntime   = 1
	exitCancelled = 2
	exitConfig    = 3
)

// exitError 携带退出码的错误。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configErr(format string, a ...any) error {
	return &exitError{code: exitConfig, err: fmt.Errorf(format, a...)}
}

// errHandled 命令已完成（如 --init-config），无需继续执行子命令。
var errHandled = errors.New("handled")

func main() {
	os.Exit(run(os.Args[1:]))
}

// app 一次 CLI 调用的共享状态。
type app struct {
	stdout io.Writer
	stderr io.Writer
	start  time.Time
	corrID string
	logger *diag.Logger

	// 全局旗标
	configPath  string
	logLevel    string
	metricsAddr string
	status      bool
	initDir     string

	metricsSrv *http.Server
	term       *diag.Terminal
}

func newApp(stdout, stderr io.Writer) *app {
	id := uuid.NewString()
	return &app{
		stdout: stdout,
		stderr: stderr,
		start:  time.Now(),
		corrID: id,
		logger: diag.NewLogger(id, "info"),
	}
}

func run(args []string) int {
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")
	a := newApp(os.Stdout, os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.execute(ctx, args)
}

func (a *app) execute(ctx context.Context, args []string) int {
	root := a.rootCmd()
	root.SetArgs(defaultToExpand(root, normalizeInitArg(args)))
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	err := root.ExecuteContext(ctx)
	a.shutdown()
	_ = a.logger.Sync()
	return a.exitCode(err)
}

func (a *app) exitCode(err error) int {
	if err == nil || errors.Is(err, errHandled) {
		return exitOK
	}
	code := exitRuntime
	var ee *exitError
	switch {
	case errors.As(err, &ee):
		code = ee.code
	case pipeline.IsCancelled(err) || errors.Is(err, context.Canceled):
		code = exitCancelled
	}
	if code == exitCancelled {
		fprintf(a.stderr, "已取消\n")
	} else {
		fprintf(a.stderr, "错误: %v\n", err)
	}
	a.logger.Error("cli", string(diag.Classify(err)), "first error", &a.start)
	return code
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dipexpand",
		Short:         "Expand diplomatic transcriptions in TEI XML",
		Long:          "dipexpand expands abbreviations in diplomatic XML transcriptions using few-shot examples and a pluggable backend.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error { return cmd.Help() },
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "配置文件路径（JSON/YAML）；缺省读取 ./config.json（若存在）")
	pf.StringVar(&a.logLevel, "log-level", "", "日志级别 debug|info|warn|error（覆盖配置）")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "在该地址提供 /metrics（Prometheus）")
	pf.BoolVar(&a.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	pf.StringVar(&a.initDir, "init-config", "", "在指定目录生成默认配置 config.json 和 .env 模板（不覆盖）；不带值时为当前目录")
	pf.Lookup("init-config").NoOptDefVal = "."

	root.AddCommand(a.expandCmd(), a.trainCmd(), a.rangesCmd(), a.learnCmd(), a.watchCmd(), a.pingCmd())
	return root
}

// defaultToExpand 未指定子命令时补上 expand；帮助与 --init-config 保持原样。
func defaultToExpand(root *cobra.Command, args []string) []string {
	for _, s := range args {
		switch {
		case s == "-h" || s == "--help" || s == "help" || s == "completion":
			return args
		case strings.HasPrefix(s, "--init-config"):
			return args
		}
	}
	if cmd, _, err := root.Find(args); err == nil && cmd != root {
		return args
	}
	return append([]string{"expand"}, args...)
}

// setup 处理 --init-config 与 --metrics-addr；其余初始化延后到配置加载。
func (a *app) setup(cmd *cobra.Command) error {
	if dir := strings.TrimSpace(a.initDir); dir != "" {
		if err := initConfig(dir, a.stderr); err != nil {
			return &exitError{code: exitConfig, err: fmt.Errorf("生成默认配置失败: %w", err)}
		}
		return errHandled
	}
	if a.metricsAddr != "" {
		ln, err := net.Listen("tcp", a.metricsAddr)
		if err != nil {
			return configErr("metrics-addr: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", diag.MetricsHandler())
		a.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() { _ = a.metricsSrv.Serve(ln) }()
		a.logger.DebugStart("cli", "metrics", "", "", map[string]string{"addr": ln.Addr().String()})
	}
	return nil
}

func (a *app) shutdown() {
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.metricsSrv.Shutdown(ctx)
		cancel()
		a.metricsSrv = nil
	}
	if a.term != nil {
		diag.SetTerminal(nil)
		a.term = nil
	}
}

// loadConfigWith 分层合并：Defaults → 文件 → DIPEXPAND_CONFIG_JSON → ENV 覆盖 → CLI 覆盖，
// 再依次执行 adjust，随后按最终日志级别调整 logger。
func (a *app) loadConfigWith(over cfgpkg.Config, adjust ...func(*cfgpkg.Config)) (cfgpkg.Config, error) {
	path := a.configPath
	if path == "" {
		path = os.Getenv("DIPEXPAND_CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	cfg := cfgpkg.Defaults()
	if path != "" {
		base, err := cfgpkg.Load(path, nil)
		if err != nil {
			return cfg, configErr("配置解析失败: %w", err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	if s := os.Getenv("DIPEXPAND_CONFIG_JSON"); s != "" {
		base, err := cfgpkg.Load("", []byte(s))
		if err != nil {
			return cfg, configErr("DIPEXPAND_CONFIG_JSON 解析失败: %w", err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, configErr("环境变量解析失败: %w", err)
	}
	cfg = cfgpkg.Merge(cfg, overEnv)
	cfg = cfgpkg.Merge(cfg, over)
	for _, fn := range adjust {
		fn(&cfg)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	cfg = cfgpkg.Normalize(cfg)

	if err := cfgpkg.Validate(cfg); err != nil {
		_ = dumpConfig(a.stderr, cfg)
		return cfg, &exitError{code: exitConfig, err: fmt.Errorf("配置校验失败: %w", err)}
	}
	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" {
		a.logger.SetLevel(lv)
	}
	a.logEffective(cfg)
	return cfg, nil
}

// assembleConfig 预检输出目录并装配；同时启用终端状态。
func (a *app) assembleConfig(cfg cfgpkg.Config) (*cfgpkg.Runtime, error) {
	if err := preflightCheckOutputDir(cfg); err != nil {
		return nil, configErr("输出目录不可写或无法创建: %w", err)
	}
	rt, err := cfgpkg.Assemble(cfg, nil, a.logger)
	if err != nil {
		if errors.Is(err, contract.ErrExamplesInvalid) {
			return nil, &exitError{code: exitRuntime, err: err}
		}
		return nil, configErr("装配失败: %w", err)
	}
	if len(rt.Settings.Examples) == 0 && rt.Components.Backend.Kind() != contract.KindNoop {
		fprintf(a.stderr, "提示: 未加载任何示例；可用 `dipexpand train --add` 添加\n")
	}
	a.term = diag.NewTerminal(a.stderr, a.status)
	diag.SetTerminal(a.term)
	return rt, nil
}

// logEffective debug 级别输出运行时配置（不含密钥）。
func (a *app) logEffective(cfg cfgpkg.Config) {
	kv := map[string]string{
		"inputs_count":   fmt.Sprintf("%d", len(cfg.Inputs)),
		"concurrency":    fmt.Sprintf("%d", cfg.Concurrency),
		"passes":         fmt.Sprintf("%d", cfg.Passes),
		"modality":       cfg.Modality,
		"backend":        cfg.Backend,
		"examples":       cfg.Examples.Path,
		"reader":         cfg.Components.Reader,
		"parser":         cfg.Components.Parser,
		"prompt_builder": cfg.Components.PromptBuilder,
		"writer":         cfg.Components.Writer,
	}
	if p, ok := cfg.Provider[cfg.Backend]; ok {
		kv["provider_client"] = p.Client
		var s struct {
			BaseURL string `json:"base_url"`
			Host    string `json:"host"`
			Model   string `json:"model"`
		}
		_ = json.Unmarshal(p.Options, &s)
		for k, v := range map[string]string{"base_url": s.BaseURL, "host": s.Host, "model": s.Model} {
			if v != "" {
				kv[k] = v
			}
		}
	}
	a.logger.DebugStart("config", "effective", "", "", kv)
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = w.Write(append([]byte("有效配置:\n"), b...))
	_, _ = w.Write([]byte("\n"))
	return nil
}
