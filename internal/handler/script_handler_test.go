package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/N1kunj1998/FastCaption/internal/model"
)

// --- モック ---

type mockScriptService struct {
	generateFn func(ctx context.Context, topic string, duration int, format string) (*model.Script, error)
	remixFn    func(ctx context.Context, hook, style, topic string) (string, error)
}

var _ ScriptServiceInterface = (*mockScriptService)(nil)

func (m *mockScriptService) GenerateScript(ctx context.Context, topic string, duration int, format string) (*model.Script, error) {
	return m.generateFn(ctx, topic, duration, format)
}
func (m *mockScriptService) RemixHook(ctx context.Context, hook, style, topic string) (string, error) {
	return m.remixFn(ctx, hook, style, topic)
}

func sampleScript(topic string) *model.Script {
	return &model.Script{
		Topic:   topic,
		Hooks:   []string{"h1", "h2", "h3", "h4", "h5"},
		Script:  []model.Scene{{Text: "scene", OnScreenText: "overlay"}},
		Broll:   []string{"b1"},
		CTA:     "cta",
		Caption: "caption",
	}
}

// --- テスト ---

func TestGenerateScript_Success(t *testing.T) {
	svc := &mockScriptService{
		generateFn: func(ctx context.Context, topic string, duration int, format string) (*model.Script, error) {
			if topic != "morning routine" || duration != 30 || format != "story" {
				t.Errorf("args = %q, %d, %q", topic, duration, format)
			}
			return sampleScript(topic), nil
		},
	}
	h := NewScriptHandler(svc)

	body := strings.NewReader(`{"topic": "morning routine", "duration": 30, "format": "story"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/generate-script", body)
	w := httptest.NewRecorder()
	h.GenerateScript(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp model.Script
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Topic != "morning routine" || len(resp.Hooks) != 5 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestGenerateScript_MissingFields(t *testing.T) {
	h := NewScriptHandler(&mockScriptService{})

	tests := []string{
		`{}`,
		`{"topic": "t"}`,
		`{"duration": 60}`,
		`{"topic": "   ", "duration": 60}`,
	}
	for _, body := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/generate-script", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.GenerateScript(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}

func TestGenerateScript_LLMNotConfigured(t *testing.T) {
	svc := &mockScriptService{
		generateFn: func(ctx context.Context, topic string, duration int, format string) (*model.Script, error) {
			return nil, model.NewLLMNotConfiguredError()
		},
	}
	h := NewScriptHandler(svc)

	body := strings.NewReader(`{"topic": "t", "duration": 60}`)
	req := httptest.NewRequest(http.MethodPost, "/api/generate-script", body)
	w := httptest.NewRecorder()
	h.GenerateScript(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("LLM未設定は503を返すべき: %d", w.Code)
	}
}

func TestScriptFromIdeaGet_AcceptsIdeaOrText(t *testing.T) {
	var gotTopic string
	svc := &mockScriptService{
		generateFn: func(ctx context.Context, topic string, duration int, format string) (*model.Script, error) {
			gotTopic = topic
			return sampleScript(topic), nil
		},
	}
	h := NewScriptHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/script-from-idea?idea=my+idea&duration=45", nil)
	w := httptest.NewRecorder()
	h.ScriptFromIdeaGet(w, req)
	if w.Code != http.StatusOK || gotTopic != "my idea" {
		t.Errorf("status = %d, topic = %q", w.Code, gotTopic)
	}

	// textパラメータへのフォールバック
	req = httptest.NewRequest(http.MethodGet, "/api/script-from-idea?text=alt+idea", nil)
	w = httptest.NewRecorder()
	h.ScriptFromIdeaGet(w, req)
	if w.Code != http.StatusOK || gotTopic != "alt idea" {
		t.Errorf("status = %d, topic = %q", w.Code, gotTopic)
	}
}

func TestScriptFromIdeaGet_MissingIdea(t *testing.T) {
	h := NewScriptHandler(&mockScriptService{})

	req := httptest.NewRequest(http.MethodGet, "/api/script-from-idea", nil)
	w := httptest.NewRecorder()
	h.ScriptFromIdeaGet(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("idea欠落は400を返すべき: %d", w.Code)
	}
}

func TestScriptFromIdeaPost_AcceptsIdeaOrText(t *testing.T) {
	var gotTopic string
	svc := &mockScriptService{
		generateFn: func(ctx context.Context, topic string, duration int, format string) (*model.Script, error) {
			gotTopic = topic
			return sampleScript(topic), nil
		},
	}
	h := NewScriptHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/script-from-idea", strings.NewReader(`{"text": "from text"}`))
	w := httptest.NewRecorder()
	h.ScriptFromIdeaPost(w, req)
	if w.Code != http.StatusOK || gotTopic != "from text" {
		t.Errorf("status = %d, topic = %q", w.Code, gotTopic)
	}
}

func TestRemixHook_Success(t *testing.T) {
	svc := &mockScriptService{
		remixFn: func(ctx context.Context, hook, style, topic string) (string, error) {
			if hook != "old hook" || style != "shorter" {
				t.Errorf("args = %q, %q", hook, style)
			}
			return "new hook", nil
		},
	}
	h := NewScriptHandler(svc)

	body := strings.NewReader(`{"hook": "old hook", "style": "shorter", "topic": "t"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/remix-hook", body)
	w := httptest.NewRecorder()
	h.RemixHook(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["hook"] != "new hook" {
		t.Errorf("hook = %q", resp["hook"])
	}
}

func TestRemixHook_MissingFields(t *testing.T) {
	h := NewScriptHandler(&mockScriptService{})

	req := httptest.NewRequest(http.MethodPost, "/api/remix-hook", strings.NewReader(`{"hook": "h"}`))
	w := httptest.NewRecorder()
	h.RemixHook(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("style欠落は400を返すべき: %d", w.Code)
	}
}
