package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"dipexpand/internal/blocks"
	"dipexpand/internal/diag"
	"dipexpand/internal/examples"
	"dipexpand/pkg/contract"
)

// xmlDecl 输出缺少声明时补上的 XML 声明。
const xmlDecl = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// MaxPasses 遍数上限；超出或小于 1 时钳制。
const MaxPasses = 5

// Components 聚合运行所需的协作者。
type Components struct {
	Reader        contract.Reader
	Parser        contract.Parser
	PromptBuilder contract.PromptBuilder
	Backend       contract.Backend
	Writer        contract.Writer
}

// Settings 运行期配置（单次运行内不可变）。
type Settings struct {
	Inputs      []string
	Tags        contract.TagSet
	Modality    string
	Concurrency int
	Passes      int
	// Examples 完整示例池；规则类后端使用全部，LLM 后端使用 Select 后的子集。
	Examples    []contract.ExamplePair
	MaxExamples int
	Strategy    examples.Strategy
	// UseSession 首遍对原始输入文件打开后端会话（后端支持时）。
	UseSession bool
	Cancel     contract.CancelFunc
	Events     chan<- contract.Event
	// OnAccepted 可选；文件成功写出后以输入与最终输出调用（如示例学习）。
	OnAccepted func(ctx context.Context, fileID, input, output string)
}

// Run 对 src 执行多遍 {parse → extract → RunPass → serialize}，返回最终文档文本。
// fileID 用于日志；sessionFile 为首遍会话上传的原始文件（可为空）。
func Run(ctx context.Context, src string, fileID, sessionFile string, comp Components, set Settings, logger *diag.Logger) (string, error) {
	if err := sanity(comp); err != nil {
		return "", fmt.Errorf("sanity: %w", err)
	}
	passes := clampPasses(set.Passes)
	conc := max(set.Concurrency, 1)
	tags := set.Tags
	if len(tags) == 0 {
		tags = contract.NewTagSet(contract.DefaultTags...)
	}
	selected := examples.Select(set.Examples, set.MaxExamples, set.Strategy)
	tf := transformer(comp, set, selected)

	var opener contract.SessionOpener
	if set.UseSession && sessionFile != "" {
		if so, ok := contract.AsSessionOpener(comp.Backend); ok {
			opener = so
		}
	}

	if t := diag.GetTerminal(); t != nil {
		t.FileStart(fileID, passes)
	}
	fileStart := time.Now()
	ok := false
	defer func() {
		if t := diag.GetTerminal(); t != nil {
			t.FileFinish(ok, time.Since(fileStart))
		}
	}()

	cur := src
	for k := 1; k <= passes; k++ {
		if ctx.Err() != nil || (set.Cancel != nil && set.Cancel()) {
			return "", fmt.Errorf("pass %d/%d: %w", k, passes, contract.ErrCancelled)
		}
		ptimer := logger.StartWithKV("pipeline", "pass", fileID, "", map[string]string{"pass": fmt.Sprintf("%d/%d", k, passes)})
		doc, err := comp.Parser.Parse(cur)
		if err != nil {
			logger.ErrorWith("pipeline", string(diag.Classify(err)), "parse failed", nil, fileID, "")
			diag.IncOp("parser", "parse", "error")
			return "", fmt.Errorf("pass %d/%d: %w", k, passes, err)
		}
		bl := blocks.Extract(doc, tags)
		ps := PassSettings{
			Concurrency: conc,
			Cancel:      set.Cancel,
			Events:      set.Events,
			FileID:      fileID,
			Pass:        k,
		}
		if passes > 1 {
			ps.Prefix = fmt.Sprintf("Pass %d/%d: ", k, passes)
		}
		// 仅首遍绑定原始文件的会话；后续遍只处理上一遍产出的文本
		if k == 1 && opener != nil {
			ps.Opener = opener
			ps.SessionFile = sessionFile
		}
		if _, err := RunPass(ctx, doc, bl, tf, ps, logger); err != nil {
			return "", fmt.Errorf("pass %d/%d: %w", k, passes, err)
		}
		out, err := doc.Serialize()
		if err != nil {
			return "", fmt.Errorf("pass %d/%d serialize: %w", k, passes, err)
		}
		cur = out
		ptimer.Finish("pass", len(bl))
	}
	ok = true
	return withDecl(cur), nil
}

// RunFile 读取 path 并执行 Run；会话（若启用）上传该文件。
func RunFile(ctx context.Context, path string, comp Components, set Settings, logger *diag.Logger) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		logger.ErrorWith("pipeline", string(diag.Classify(err)), "read failed", nil, path, "")
		return "", err
	}
	return Run(ctx, string(b), path, path, comp, set, logger)
}

// RunBatch 遍历 Reader 的全部输入，逐文件展开并经 Writer 写出（文件名后缀由 Writer 决定）。
// 单文件失败不中断后续文件；取消立即停止。返回汇总错误。
func RunBatch(ctx context.Context, comp Components, set Settings, logger *diag.Logger) error {
	if comp.Reader == nil || comp.Writer == nil {
		return errors.New("pipeline: missing reader or writer")
	}
	rtimer := logger.Start("reader", "iterate")
	var errs []error
	files := 0
	err := comp.Reader.Iterate(ctx, set.Inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		files++
		b, err := io.ReadAll(rc)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", fid, err))
			return nil
		}
		sessionFile := string(fid)
		if fid == "stdin" {
			sessionFile = ""
		}
		out, err := Run(ctx, string(b), string(fid), sessionFile, comp, set, logger)
		if err != nil {
			if IsCancelled(err) {
				return err
			}
			errs = append(errs, fmt.Errorf("%s: %w", fid, err))
			return nil
		}
		wtimer := logger.StartWith("writer", "write", string(fid), "")
		if err := comp.Writer.Write(ctx, contract.ArtifactID(fid), strings.NewReader(out)); err != nil {
			logger.ErrorWith("writer", string(diag.Classify(err)), "write failed", nil, string(fid), "")
			diag.IncOp("writer", "write", "error")
			errs = append(errs, fmt.Errorf("%s: write: %w", fid, err))
			return nil
		}
		wtimer.Finish("write", 1)
		diag.IncOp("writer", "write", "success")
		if set.OnAccepted != nil {
			set.OnAccepted(ctx, string(fid), string(b), out)
		}
		return nil
	})
	if err != nil {
		logger.Error("reader", string(diag.Classify(err)), "iterate failed", nil)
		return fmt.Errorf("reader iterate: %w", errors.Join(append(errs, err)...))
	}
	rtimer.Finish("iterate", files)
	return errors.Join(errs...)
}

// transformer 把后端与提示词构造绑定为 TransformFunc。
func transformer(comp Components, set Settings, selected []contract.ExamplePair) TransformFunc {
	kind := comp.Backend.Kind()
	return func(ctx context.Context, text string, sess contract.Session) (string, error) {
		req := contract.Request{Text: text, Modality: set.Modality, Session: sess}
		switch kind {
		case contract.KindRules:
			req.Examples = set.Examples
			return comp.Backend.Transform(ctx, req)
		case contract.KindNoop:
			return comp.Backend.Transform(ctx, req)
		case contract.KindLocal:
			// 本地后端回退规则替换时使用完整示例池
			req.Examples = set.Examples
		default:
			req.Examples = selected
		}
		if comp.PromptBuilder != nil {
			p, err := comp.PromptBuilder.Build(ctx, contract.PromptRequest{Text: text, Examples: selected, Modality: set.Modality})
			if err != nil {
				return "", fmt.Errorf("prompt build: %w", err)
			}
			req.Prompt = p
		}
		return comp.Backend.Transform(ctx, req)
	}
}

func sanity(c Components) error {
	if c.Parser == nil || c.Backend == nil {
		return errors.New("pipeline: missing parser or backend")
	}
	return nil
}

func clampPasses(n int) int {
	return min(max(n, 1), MaxPasses)
}

// withDecl 序列化结果缺少 XML 声明时补上。
func withDecl(s string) string {
	if strings.HasPrefix(strings.TrimLeft(s, " \t\r\n\ufeff"), "<?xml") {
		return s
	}
	return xmlDecl + s
}
