package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	cfgpkg "dipexpand/internal/config"
)

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
// - 忽略不存在的文件；无法读取时返回错误（但调用处可忽略）。
// - 跳过空行与以 # 开头的行；支持可选的前缀 "export "。
// - 仅按首个 '=' 分割；若 value 被成对的单/双引号包裹，则去除外层引号；双引号内处理 \n/\t/\\/\" 转义。
// - 不覆盖已存在的环境变量。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := unquote(strings.TrimSpace(line[eq+1:]))
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

var dqEscapes = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r", `\"`, `"`, `\\`, `\`)

func unquote(val string) string {
	if len(val) < 2 {
		return val
	}
	q := val[0]
	if (q != '\'' && q != '"') || val[len(val)-1] != q {
		return val
	}
	val = val[1 : len(val)-1]
	if q == '"' {
		val = dqEscapes.Replace(val)
	}
	return val
}

// normalizeInitArg 把 "--init-config DIR" 改写为 "--init-config=DIR"；
// 裸开关或后继为下一个开关时保持原样（由 NoOptDefVal 取当前目录）。
func normalizeInitArg(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		if (a == "--init-config" || a == "-init-config") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, "--init-config="+args[i+1])
			i++
			continue
		}
		out = append(out, a)
	}
	return out
}

// initConfig 在 dir 生成 config.json 与 .env 模板；已存在的文件跳过。
func initConfig(dir string, stderr io.Writer) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	cfgPath := filepath.Join(dir, "config.json")
	if err := writeConfig(cfgPath, cfgpkg.DefaultTemplateConfig()); err != nil {
		if !os.IsExist(err) {
			return err
		}
		fprintf(stderr, "已存在，跳过: %s\n", cfgPath)
	} else {
		fprintf(stderr, "已生成: %s\n", cfgPath)
	}
	if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
		fprintf(stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	return nil
}

func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	var b strings.Builder
	b.WriteString("# dipexpand .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件\n")
	b.WriteString("# 空值表示未设置。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	b.WriteString("DIPEXPAND_CONFIG_FILE=\n")
	b.WriteString("DIPEXPAND_CONFIG_JSON=\n\n")

	b.WriteString("# 运行参数覆盖\n")
	for _, k := range []string{"INPUTS", "CONCURRENCY", "PASSES", "MAX_RETRIES", "MODALITY", "TAGS", "BACKEND", "LOG_LEVEL"} {
		b.WriteString(cfgpkg.EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# 示例与学习\n")
	for _, k := range []string{"EXAMPLES_PATH", "EXAMPLES_INCLUDE_LEARNED", "EXAMPLES_INCLUDE_PERSONAL", "EXAMPLES_MAX", "EXAMPLES_STRATEGY", "LEARN_ENABLED", "LEARN_WORD_LEVEL", "SESSION_FILE"} {
		b.WriteString(cfgpkg.EnvPrefix + k + "=\n")
	}
	for _, name := range []string{"gemini", "ollama", "openai"} {
		fmt.Fprintf(&b, "\n# Provider 覆盖（%s）\n", name)
		for _, f := range []string{"CLIENT", "LIMITS_RPM", "LIMITS_TPM", "LIMITS_MAX_TOKENS_PER_REQ", "OPTIONS_JSON"} {
			fmt.Fprintf(&b, "%sPROVIDER__%s__%s=\n", cfgpkg.EnvPrefix, name, f)
		}
	}
	b.WriteString("\n# 供应商凭据与后端环境（由后端直接读取）\n")
	for _, k := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY", "GEMINI_TIMEOUT", "OPENAI_API_KEY", "OLLAMA_HOST", "OLLAMA_TIMEOUT"} {
		b.WriteString(k + "=\n")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}

// preflightCheckOutputDir: fs writer 指定 output_dir 时，启动前检查其可写性。
// 目录存在则尝试创建并删除临时文件；不存在则检查父目录可写。beside 模式跳过。
func preflightCheckOutputDir(cfg cfgpkg.Config) error {
	name := strings.TrimSpace(cfg.Components.Writer)
	if name != "" && name != "fs" {
		return nil
	}
	var wopts struct {
		OutputDir string `json:"output_dir"`
		Beside    bool   `json:"beside"`
	}
	if len(cfg.Options.Writer) > 0 {
		_ = json.Unmarshal(cfg.Options.Writer, &wopts)
	}
	dir := strings.TrimSpace(wopts.OutputDir)
	if wopts.Beside || dir == "" || dir == "-" {
		return nil
	}
	if st, err := os.Stat(dir); err == nil {
		if !st.IsDir() {
			return fmt.Errorf("路径存在但不是目录: %s", dir)
		}
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	parent := filepath.Dir(filepath.Clean(dir))
	pst, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if !pst.IsDir() {
		return fmt.Errorf("父路径不是目录: %s", parent)
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	return os.RemoveAll(tmpd)
}
