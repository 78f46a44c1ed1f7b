package gemini

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"dipexpand/internal/diag"
	"dipexpand/pkg/contract"
)

type fakeModels struct {
	text     string
	err      error
	model    string
	contents []*genai.Content
	cfg      *genai.GenerateContentConfig
	deadline time.Duration
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents, f.cfg = model, contents, cfg
	if dl, ok := ctx.Deadline(); ok {
		f.deadline = time.Until(dl)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: genai.NewContentFromText(f.text, genai.RoleModel),
	}}}, nil
}

type fakeFiles struct {
	uploaded []string
	deleted  []string
	err      error
}

func (f *fakeFiles) UploadFromPath(ctx context.Context, path string, cfg *genai.UploadFileConfig) (*genai.File, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.uploaded = append(f.uploaded, path)
	return &genai.File{Name: "files/abc", URI: "https://files/abc", MIMEType: cfg.MIMEType}, nil
}

func (f *fakeFiles) Delete(ctx context.Context, name string, cfg *genai.DeleteFileConfig) (*genai.DeleteFileResponse, error) {
	f.deleted = append(f.deleted, name)
	return &genai.DeleteFileResponse{}, nil
}

func chat(sys, user string) contract.ChatPrompt {
	return contract.ChatPrompt{{Role: "system", Content: sys}, {Role: "user", Content: user}}
}

// TestTransformMapsPrompt system 映射为 SystemInstruction，user 为内容
func TestTransformMapsPrompt(t *testing.T) {
	fm := &fakeModels{text: "  the  "}
	b := newBackend(Options{}, fm, nil)
	out, err := b.Transform(context.Background(), contract.Request{Text: "y^e", Prompt: chat("S", "U")})
	require.NoError(t, err)
	assert.Equal(t, "the", out)
	assert.Equal(t, DefaultModel, fm.model)
	require.NotNil(t, fm.cfg.SystemInstruction)
	assert.Equal(t, "S", fm.cfg.SystemInstruction.Parts[0].Text)
	require.Len(t, fm.contents, 1)
	assert.Equal(t, "U", fm.contents[0].Parts[0].Text)
	assert.InDelta(t, 0.2, float64(*fm.cfg.Temperature), 1e-6)
	assert.Equal(t, int32(8192), fm.cfg.MaxOutputTokens)
}

func TestTransformErrors(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		err  error
		is   error
	}{
		{"限流", genai.APIError{Code: 429, Message: "quota"}, contract.ErrRateLimited},
		{"指针限流", &genai.APIError{Code: 429}, contract.ErrRateLimited},
		{"请求无效", genai.APIError{Code: 400, Message: "bad"}, contract.ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newBackend(Options{}, &fakeModels{err: tc.err}, nil)
			_, err := b.Transform(ctx, contract.Request{Text: "x"})
			assert.ErrorIs(t, err, tc.is)
		})
	}

	b := newBackend(Options{}, &fakeModels{err: genai.APIError{Code: 503, Message: "down"}}, nil)
	_, err := b.Transform(ctx, contract.Request{Text: "x"})
	var ue contract.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 503, ue.UpstreamStatus())
	assert.Equal(t, diag.CodeNetwork, diag.Classify(err))

	b = newBackend(Options{}, &fakeModels{text: ""}, nil)
	_, err = b.Transform(ctx, contract.Request{Text: "x"})
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)

	_, err = b.Transform(ctx, contract.Request{Text: "x", Prompt: contract.TextPrompt(" ")})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

// TestSession 上传原文件、请求携带文件引用、关闭时删除
func TestSession(t *testing.T) {
	fm, ff := &fakeModels{text: "ok"}, &fakeFiles{}
	b := newBackend(Options{Model: "gemini-2.5-flash"}, fm, ff)
	so, ok := contract.AsSessionOpener(b)
	require.True(t, ok)
	sess, err := so.OpenSession(context.Background(), "ms.xml")
	require.NoError(t, err)
	assert.Equal(t, []string{"ms.xml"}, ff.uploaded)

	_, err = b.Transform(context.Background(), contract.Request{Text: "x", Prompt: chat("S", "U"), Session: sess})
	require.NoError(t, err)
	parts := fm.contents[0].Parts
	require.Len(t, parts, 3)
	require.NotNil(t, parts[0].FileData)
	assert.Equal(t, "https://files/abc", parts[0].FileData.FileURI)
	assert.Equal(t, "text/xml", parts[0].FileData.MIMEType)
	assert.Equal(t, "U", parts[2].Text)

	require.NoError(t, sess.Close(context.Background()))
	assert.Equal(t, []string{"files/abc"}, ff.deleted)

	_, err = newBackend(Options{}, fm, nil).OpenSession(context.Background(), "ms.xml")
	assert.ErrorIs(t, err, contract.ErrSessionUnsupported)
}

func TestTimeoutForModel(t *testing.T) {
	assert.Equal(t, 120*time.Second, TimeoutForModel("gemini-2.5-flash", 120*time.Second))
	assert.Equal(t, ProMinTimeout, TimeoutForModel("gemini-2.5-pro", 60*time.Second))
	assert.Equal(t, 600*time.Second, TimeoutForModel("models/gemini-3-pro-preview", 600*time.Second))
	assert.Equal(t, 100*time.Second, TimeoutForModel("", 100*time.Second))

	t.Setenv(TimeoutEnv, "45")
	fm := &fakeModels{text: "ok"}
	b := newBackend(Options{}, fm, nil)
	assert.Equal(t, 45*time.Second, b.timeout)
	_, _ = b.Transform(context.Background(), contract.Request{Text: "x"})
	assert.LessOrEqual(t, fm.deadline, 45*time.Second)
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "g")
	assert.Equal(t, "g", ResolveAPIKey("", ""))
	t.Setenv("GEMINI_API_KEY", "m")
	assert.Equal(t, "m", ResolveAPIKey("", ""))
	assert.Equal(t, "k", ResolveAPIKey("k", ""))
	t.Setenv("MY_KEY", "z")
	assert.Equal(t, "z", ResolveAPIKey("", "MY_KEY"))

	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	_, err := New(nil)
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))
}
