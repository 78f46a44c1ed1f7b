package testdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cfgpkg "dipexpand/internal/config"
	"dipexpand/internal/examples"
	"dipexpand/internal/pipeline"
	"dipexpand/pkg/contract"
)

const sampleBlocks = 6

func baseConfig(input, outDir string) cfgpkg.Config {
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.Inputs = []string{input}
	cfg.Concurrency = 1
	cfg.Logging.Level = "error"
	cfg.Examples.Path = filepath.Join("files", "examples.json")
	cfg.Options.Writer = json.RawMessage(fmt.Sprintf(`{"output_dir":%q,"suffix":"_expanded","atomic":false,"flat":true}`, outDir))
	return cfg
}

func runPipeline(t *testing.T, cfg cfgpkg.Config) error {
	t.Helper()
	rt, err := cfgpkg.Assemble(cfg, examples.NewStore(examples.WithPersonalPath("")), nil)
	if err != nil {
		return err
	}
	return pipeline.RunBatch(context.Background(), rt.Components, rt.Settings, nil)
}

func readOutput(t *testing.T, outDir string) string {
	t.Helper()
	got, err := os.ReadFile(filepath.Join(outDir, "sample_expanded.xml"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	return string(got)
}

func TestE2ERules(t *testing.T) {
	in := filepath.Join("files", "sample.xml")
	outDir := t.TempDir()
	cfg := baseConfig(in, outDir)
	cfg.Concurrency = 4
	if err := runPipeline(t, cfg); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	got := readOutput(t, outDir)
	for _, want := range []string{
		"<head>Of the kinges court</head>",
		"<p>the kyng sayd with grete joye</p>",
		"<p>quod he, the lord</p>",
		"<item>the firste</item>",
		"<item>with all</item>",
		"<p><seg>that nyght</seg></p>",
		// 非块元素保持不变
		"<title>y^e sample</title>",
		`<TEI xmlns="http://www.tei-c.org/ns/1.0">`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("输出缺少 %q\n%s", want, got)
		}
	}
	if strings.Count(got, "<?xml") != 1 {
		t.Fatalf("XML 声明应恰好一个:\n%s", got)
	}
}

// 多遍：mock 前缀在每遍叠加一次
func TestE2EPasses(t *testing.T) {
	in := filepath.Join("files", "sample.xml")
	outDir := t.TempDir()
	cfg := baseConfig(in, outDir)
	cfg.Passes = 2
	cfg.Backend = "mock"
	cfg.Provider["mock"] = cfgpkg.Provider{
		Client:  "mock",
		Options: json.RawMessage(`{"prefix":"P","response_mode":"prefix"}`),
	}
	if err := runPipeline(t, cfg); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	got := readOutput(t, outDir)
	if !strings.Contains(got, "<item>P: P: w^t all</item>") {
		t.Fatalf("两遍后应叠加两次前缀:\n%s", got)
	}
}

func TestE2EBudgetExceeded(t *testing.T) {
	in := filepath.Join("files", "sample.xml")
	outDir := t.TempDir()
	cfg := baseConfig(in, outDir)
	cfg.Backend = "mock"
	cfg.Provider["mock"] = cfgpkg.Provider{
		Client:  "mock",
		Options: json.RawMessage(`{"prefix":"DEBUG","response_mode":"prefix"}`),
		Limits:  cfgpkg.Limits{MaxTokensPerReq: 1},
	}
	err := runPipeline(t, cfg)
	if err == nil || !strings.Contains(err.Error(), contract.ErrBudgetExceeded.Error()) {
		t.Fatalf("expect budget error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "sample_expanded.xml")); err == nil {
		t.Fatalf("output file should not exist")
	}
}

func TestE2ERetry(t *testing.T) {
	in := filepath.Join("files", "sample.xml")
	outDir := t.TempDir()
	logPath := filepath.Join(outDir, "flaky.log")
	cfg := baseConfig(in, outDir)
	cfg.Backend = "flaky"
	cfg.MaxRetries = 2
	cfg.RetryInitialMS = 1
	cfg.Provider["flaky"] = cfgpkg.Provider{
		Client:  "flaky",
		Options: json.RawMessage(fmt.Sprintf(`{"prefix":"FLAKY","failures":2,"log_path":%q}`, logPath)),
	}
	if err := runPipeline(t, cfg); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	got := readOutput(t, outDir)
	if !strings.Contains(got, "<head>FLAKY: Of y^e kinges court</head>") {
		t.Fatalf("output mismatch:\n%s", got)
	}
	logData, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(logData)), "\n")
	if len(lines) != 2+sampleBlocks || lines[0] != "rate_limited" || lines[1] != "unavailable" {
		t.Fatalf("unexpected log: %v", lines)
	}
}

// 重试次数不足时块错误携带序号与原文
func TestE2ERetryExhausted(t *testing.T) {
	in := filepath.Join("files", "sample.xml")
	outDir := t.TempDir()
	cfg := baseConfig(in, outDir)
	cfg.Backend = "flaky"
	cfg.MaxRetries = 0
	cfg.Provider["flaky"] = cfgpkg.Provider{Client: "flaky"}
	err := runPipeline(t, cfg)
	if err == nil {
		t.Fatal("应当失败")
	}
	var be *contract.BlockTransformError
	if !errors.As(err, &be) || be.Ordinal != 0 || be.Text != "Of y^e kinges court" {
		t.Fatalf("应携带首块序号与原文: %v", err)
	}
	if !strings.Contains(err.Error(), contract.ErrRateLimited.Error()) {
		t.Fatalf("应为限流错误: %v", err)
	}
}
