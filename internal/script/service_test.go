package script

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/N1kunj1998/FastCaption/internal/model"
)

// --- モック ---

type mockGenerator struct {
	chatFn func(ctx context.Context, messages []Message, formatJSON bool) (string, error)
}

func (m *mockGenerator) Chat(ctx context.Context, messages []Message, formatJSON bool) (string, error) {
	return m.chatFn(ctx, messages, formatJSON)
}
func (m *mockGenerator) Name() string { return "mock" }

type mockGenerationRecorder struct {
	statuses []string
}

func (m *mockGenerationRecorder) RecordGeneration(backend, status string, duration time.Duration) {
	m.statuses = append(m.statuses, status)
}

type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(s string) string {
	return strings.ReplaceAll(s, "<b>", "")
}

const validScriptJSON = `{
  "topic": "morning routine",
  "hooks": ["h1", "h2", "h3", "h4", "h5"],
  "script": [{"text": "scene 1", "onScreenText": "overlay 1"}],
  "broll": ["b1", "b2"],
  "cta": "follow for more",
  "caption": "caption #tags"
}`

// --- テスト ---

func TestGenerateScript_Success(t *testing.T) {
	gen := &mockGenerator{
		chatFn: func(ctx context.Context, messages []Message, formatJSON bool) (string, error) {
			if !formatJSON {
				t.Error("スクリプト生成はJSONフォーマット指定で呼ばれるべき")
			}
			if len(messages) != 2 || messages[0].Role != "system" || messages[1].Role != "user" {
				t.Errorf("messages = %+v", messages)
			}
			if !strings.Contains(messages[0].Content, "45-second") {
				t.Error("システムプロンプトに動画尺が埋め込まれるべき")
			}
			return validScriptJSON, nil
		},
	}
	metrics := &mockGenerationRecorder{}
	s := NewService(gen, passthroughSanitizer{}, metrics)

	result, err := s.GenerateScript(context.Background(), "morning routine", 45, "story")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Topic != "morning routine" {
		t.Errorf("topic = %q", result.Topic)
	}
	if len(result.Hooks) != 5 || len(result.Script) != 1 {
		t.Errorf("result = %+v", result)
	}
	if len(metrics.statuses) != 1 || metrics.statuses[0] != "success" {
		t.Errorf("metrics = %v", metrics.statuses)
	}
}

func TestGenerateScript_DefaultsDurationAndFormat(t *testing.T) {
	gen := &mockGenerator{
		chatFn: func(ctx context.Context, messages []Message, formatJSON bool) (string, error) {
			if !strings.Contains(messages[0].Content, "60-second") {
				t.Error("duration未指定は60秒になるべき")
			}
			if !strings.Contains(messages[0].Content, "Use the most engaging format") {
				t.Error("未知のformatはgeneralとして扱うべき")
			}
			return validScriptJSON, nil
		},
	}
	s := NewService(gen, passthroughSanitizer{}, &mockGenerationRecorder{})

	if _, err := s.GenerateScript(context.Background(), "topic", 0, "unknown-format"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGenerateScript_StripsCodeFences(t *testing.T) {
	// モデルが指示を無視してコードブロックで囲むケース
	gen := &mockGenerator{
		chatFn: func(ctx context.Context, messages []Message, formatJSON bool) (string, error) {
			return "```json\n" + validScriptJSON + "\n```", nil
		},
	}
	s := NewService(gen, passthroughSanitizer{}, &mockGenerationRecorder{})

	result, err := s.GenerateScript(context.Background(), "topic", 60, "general")
	if err != nil {
		t.Fatalf("フェンス付き出力も受け入れるべき: %v", err)
	}
	if result.Topic != "morning routine" {
		t.Errorf("topic = %q", result.Topic)
	}
}

func TestGenerateScript_RejectsInvalidShape(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"空文字列", ""},
		{"JSONでない", "sorry, I can't do that"},
		{"hooks欠落", `{"topic": "t", "script": [{"text": "s"}]}`},
		{"script欠落", `{"topic": "t", "hooks": ["h"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &mockGenerator{
				chatFn: func(ctx context.Context, messages []Message, formatJSON bool) (string, error) {
					return tt.content, nil
				},
			}
			metrics := &mockGenerationRecorder{}
			s := NewService(gen, passthroughSanitizer{}, metrics)

			_, err := s.GenerateScript(context.Background(), "topic", 60, "general")
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeGenerationFailed {
				t.Errorf("GENERATION_FAILEDが返るべき: %v", err)
			}
		})
	}
}

func TestGenerateScript_BackendError(t *testing.T) {
	gen := &mockGenerator{
		chatFn: func(ctx context.Context, messages []Message, formatJSON bool) (string, error) {
			return "", errors.New("connection refused")
		},
	}
	metrics := &mockGenerationRecorder{}
	s := NewService(gen, passthroughSanitizer{}, metrics)

	_, err := s.GenerateScript(context.Background(), "topic", 60, "general")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeGenerationFailed {
		t.Errorf("GENERATION_FAILEDが返るべき: %v", err)
	}
	if len(metrics.statuses) != 1 || metrics.statuses[0] != "error" {
		t.Errorf("metrics = %v", metrics.statuses)
	}
}

func TestGenerateScript_NotConfigured(t *testing.T) {
	s := NewService(nil, passthroughSanitizer{}, &mockGenerationRecorder{})

	_, err := s.GenerateScript(context.Background(), "topic", 60, "general")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeLLMNotConfigured {
		t.Errorf("LLM_NOT_CONFIGUREDが返るべき: %v", err)
	}
}

func TestGenerateScript_SanitizesOutput(t *testing.T) {
	gen := &mockGenerator{
		chatFn: func(ctx context.Context, messages []Message, formatJSON bool) (string, error) {
			return `{
  "topic": "<b>topic</b>",
  "hooks": ["<b>hook</b>"],
  "script": [{"text": "<b>text</b>", "onScreenText": "<b>overlay</b>"}],
  "broll": ["<b>b</b>"],
  "cta": "<b>cta</b>",
  "caption": "<b>cap</b>"
}`, nil
		},
	}
	s := NewService(gen, passthroughSanitizer{}, &mockGenerationRecorder{})

	result, err := s.GenerateScript(context.Background(), "topic", 60, "general")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, field := range []string{result.Topic, result.Hooks[0], result.Script[0].Text, result.Script[0].OnScreenText, result.Broll[0], result.CTA, result.Caption} {
		if strings.Contains(field, "<b>") {
			t.Errorf("全フィールドがサニタイズされるべき: %q", field)
		}
	}
}

func TestRemixHook_Success(t *testing.T) {
	gen := &mockGenerator{
		chatFn: func(ctx context.Context, messages []Message, formatJSON bool) (string, error) {
			if formatJSON {
				t.Error("フック改変はプレーンテキスト応答を使うべき")
			}
			if !strings.Contains(messages[0].Content, "SHORTER") {
				t.Error("スタイル指示がプロンプトへ埋め込まれるべき")
			}
			return "  Stop doing this now  ", nil
		},
	}
	s := NewService(gen, passthroughSanitizer{}, &mockGenerationRecorder{})

	hook, err := s.RemixHook(context.Background(), "original hook", "shorter", "topic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hook != "Stop doing this now" {
		t.Errorf("hook = %q", hook)
	}
}

func TestRemixHook_UnknownStyleUsesDefault(t *testing.T) {
	gen := &mockGenerator{
		chatFn: func(ctx context.Context, messages []Message, formatJSON bool) (string, error) {
			if !strings.Contains(messages[0].Content, defaultStylePrompt) {
				t.Error("未知のスタイルはデフォルト指示を使うべき")
			}
			return "remixed", nil
		},
	}
	s := NewService(gen, passthroughSanitizer{}, &mockGenerationRecorder{})

	if _, err := s.RemixHook(context.Background(), "hook", "nonsense", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRemixHook_EmptyResponseFallsBackToOriginal(t *testing.T) {
	gen := &mockGenerator{
		chatFn: func(ctx context.Context, messages []Message, formatJSON bool) (string, error) {
			return "   ", nil
		},
	}
	s := NewService(gen, passthroughSanitizer{}, &mockGenerationRecorder{})

	hook, err := s.RemixHook(context.Background(), "original", "shorter", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hook != "original" {
		t.Errorf("空応答は元のフックへフォールバックすべき: %q", hook)
	}
}
