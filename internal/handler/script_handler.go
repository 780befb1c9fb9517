package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/N1kunj1998/FastCaption/internal/model"
)

// ScriptServiceInterface はスクリプトハンドラーが必要とするサービスインターフェース。
type ScriptServiceInterface interface {
	GenerateScript(ctx context.Context, topic string, duration int, format string) (*model.Script, error)
	RemixHook(ctx context.Context, hook, style, topic string) (string, error)
}

// ScriptHandler はスクリプト生成のHTTPハンドラー。
type ScriptHandler struct {
	service ScriptServiceInterface
}

// NewScriptHandler はScriptHandlerを生成する。
func NewScriptHandler(service ScriptServiceInterface) *ScriptHandler {
	return &ScriptHandler{
		service: service,
	}
}

// GenerateScript はトピックからスクリプト一式を生成する。
// POST /api/generate-script
func (h *ScriptHandler) GenerateScript(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic    string `json:"topic"`
		Duration int    `json:"duration"`
		Format   string `json:"format"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Topic) == "" || req.Duration == 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldError("topic, duration"))
		return
	}

	result, err := h.service.GenerateScript(r.Context(), strings.TrimSpace(req.Topic), req.Duration, req.Format)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, result)
}

// ScriptFromIdeaGet はクエリパラメータのアイデア文からスクリプトを生成する。
// GET /api/script-from-idea
func (h *ScriptHandler) ScriptFromIdeaGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	idea := q.Get("idea")
	if idea == "" {
		idea = q.Get("text")
	}
	idea = strings.TrimSpace(idea)
	if idea == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldError("idea (または text)"))
		return
	}

	duration, _ := strconv.Atoi(q.Get("duration"))
	format := q.Get("format")

	result, err := h.service.GenerateScript(r.Context(), idea, duration, format)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, result)
}

// ScriptFromIdeaPost はリクエストボディのアイデア文からスクリプトを生成する。
// POST /api/script-from-idea
func (h *ScriptHandler) ScriptFromIdeaPost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Idea     string `json:"idea"`
		Text     string `json:"text"`
		Duration int    `json:"duration"`
		Format   string `json:"format"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldError("idea (または text)"))
		return
	}

	idea := strings.TrimSpace(req.Idea)
	if idea == "" {
		idea = strings.TrimSpace(req.Text)
	}
	if idea == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldError("idea (または text)"))
		return
	}

	result, err := h.service.GenerateScript(r.Context(), idea, req.Duration, req.Format)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, result)
}

// RemixHook は既存フックをスタイル指示に従って書き直す。
// POST /api/remix-hook
func (h *ScriptHandler) RemixHook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hook  string `json:"hook"`
		Style string `json:"style"`
		Topic string `json:"topic"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Hook == "" || req.Style == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldError("hook, style"))
		return
	}

	remixed, err := h.service.RemixHook(r.Context(), req.Hook, req.Style, req.Topic)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"hook": remixed})
}
