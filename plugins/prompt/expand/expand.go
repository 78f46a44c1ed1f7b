// Package expand 构造“外交式转写 → 完整展开”的 ChatPrompt（system + few-shot user）。
package expand

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"text/template"

	"dipexpand/pkg/contract"
)

// 展开风格。
const (
	ModalityFull         = "full"
	ModalityConservative = "conservative"
	ModalityNormalize    = "normalize"
	ModalityAggressive   = "aggressive"
)

const latinRule = " Keep the full (expanded) form in Latin. Do not translate to English or any other language."
const outputRule = " Output only the expanded text, no XML, no commentary."

var modalityText = map[string]string{
	ModalityFull: "You expand diplomatic transcriptions into full, readable form. " +
		"Resolve abbreviations, expand superscripts, normalize punctuation and spacing." + latinRule + outputRule,
	ModalityConservative: "Expand abbreviations and superscripts only. Keep original wording, punctuation, and spelling where possible. " +
		"Do not modernize or paraphrase." + latinRule + outputRule,
	ModalityNormalize: "Normalize spacing and punctuation; expand common abbreviations and superscripts. " +
		"Keep the text close to the diplomatic form." + latinRule + outputRule,
	ModalityAggressive: "Fully expand to modern, readable Latin prose. Resolve all abbreviations, expand superscripts, " +
		"normalize punctuation and spacing, and lightly modernize wording where it aids clarity." + latinRule + outputRule,
}

// Modalities 返回全部合法风格名。
func Modalities() []string {
	return []string{ModalityFull, ModalityConservative, ModalityNormalize, ModalityAggressive}
}

// ParseModality 未知取值回落为 full。
func ParseModality(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if _, ok := modalityText[s]; ok {
		return s
	}
	return ModalityFull
}

// SystemText 返回风格对应的 system 指令。
func SystemText(modality string) string { return modalityText[ParseModality(modality)] }

// Options 最小配置。
// - InlineSystemTemplate / SystemTemplatePath: system 模板（二选一，均为空时使用风格指令）；
//   模板数据：{{.Modality}} 风格名，{{.Instruction}} 风格指令。
// - InlineNotes / NotesPath: 附加说明（如项目缩写约定），以 <notes> 包裹追加到 system 尾部。
type Options struct {
	InlineSystemTemplate string `json:"inline_system_template"`
	SystemTemplatePath   string `json:"system_template_path"`
	InlineNotes          string `json:"inline_notes"`
	NotesPath            string `json:"notes_path"`
}

// Builder 运行期不做 I/O；模板与附加说明在构造期加载。
type Builder struct {
	sysT  *template.Template
	notes string
}

const defaultSystemTemplate = `{{.Instruction}}`

// New 创建 PromptBuilder。
func New(opts *Options) (*Builder, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	src := defaultSystemTemplate
	if o.InlineSystemTemplate != "" {
		src = o.InlineSystemTemplate
	} else if o.SystemTemplatePath != "" {
		b, err := os.ReadFile(o.SystemTemplatePath)
		if err != nil {
			return nil, fmt.Errorf("system template read: %w", err)
		}
		src = string(b)
	}
	tpl, err := template.New("system").Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("system template parse: %w", err)
	}
	notes := o.InlineNotes
	if notes == "" && o.NotesPath != "" {
		b, err := os.ReadFile(o.NotesPath)
		if err != nil {
			return nil, fmt.Errorf("notes read: %w", err)
		}
		notes = string(b)
	}
	return &Builder{sysT: tpl, notes: strings.TrimSpace(notes)}, nil
}

var _ contract.PromptBuilder = (*Builder)(nil)

func (b *Builder) system(modality string) (string, error) {
	m := ParseModality(modality)
	var buf bytes.Buffer
	data := struct{ Modality, Instruction string }{m, modalityText[m]}
	if err := b.sysT.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("system render: %w: %v", contract.ErrInvalidInput, err)
	}
	if b.notes != "" {
		buf.WriteString("\n\n<notes>\n")
		buf.WriteString(b.notes)
		buf.WriteString("\n</notes>")
	}
	return buf.String(), nil
}

// Build 构造 ChatPrompt。user 部分：每个示例 "Diplomatic:\n<d>\nFull:\n<f>\n\n"，
// 最后是 "Diplomatic:\n<text>\nFull:"。
func (b *Builder) Build(ctx context.Context, req contract.PromptRequest) (contract.Prompt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("prompt: %w: empty text", contract.ErrInvalidInput)
	}
	sys, err := b.system(req.Modality)
	if err != nil {
		return nil, err
	}
	return contract.ChatPrompt{
		{Role: "system", Content: sys},
		{Role: "user", Content: User(req.Text, req.Examples)},
	}, nil
}

// User 渲染 few-shot 用户消息。
func User(text string, examples []contract.ExamplePair) string {
	var sb strings.Builder
	for _, e := range examples {
		d, f := strings.TrimSpace(e.Diplomatic), strings.TrimSpace(e.Full)
		if d == "" || f == "" {
			continue
		}
		sb.WriteString("Diplomatic:\n")
		sb.WriteString(d)
		sb.WriteString("\nFull:\n")
		sb.WriteString(f)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Diplomatic:\n")
	sb.WriteString(text)
	sb.WriteString("\nFull:")
	return sb.String()
}

// EstimateOverheadTokens 估算固定开销：默认风格的 system 与 user 骨架。
func (b *Builder) EstimateOverheadTokens(estimate contract.TokenEstimator) int {
	if estimate == nil {
		return 0
	}
	sys, _ := b.system(ModalityFull)
	return estimate(sys) + estimate("Diplomatic:\n\nFull:")
}
