package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/N1kunj1998/FastCaption/internal/model"
	"github.com/N1kunj1998/FastCaption/internal/trial"
)

// TrialServiceInterface はトライアルハンドラーが必要とするサービスインターフェース。
type TrialServiceInterface interface {
	EnsureStarted(ctx context.Context, userID string) (*model.Trial, error)
	IncrementToday(ctx context.Context, userID string) (trial.DayUsage, error)
	GetStatus(ctx context.Context, userID string) (*trial.Status, error)
	TodayKey() string
}

// TrialIncrementRecorder はインクリメントメトリクスの記録インターフェース。
type TrialIncrementRecorder interface {
	RecordTrialIncrement()
}

// TrialHandler はトライアル台帳のHTTPハンドラー。
//
// ストア未設定（縮退モード）ではエラーを返さず、クライアントが動作を
// 継続できるフォールバック値を返す。台帳の正確性よりアプリの可用性を
// 優先する。
type TrialHandler struct {
	service TrialServiceInterface
	metrics TrialIncrementRecorder
}

// NewTrialHandler はTrialHandlerを生成する。
func NewTrialHandler(service TrialServiceInterface, metrics TrialIncrementRecorder) *TrialHandler {
	return &TrialHandler{
		service: service,
		metrics: metrics,
	}
}

// GetStatus はトライアル状態を返す。
// GET /api/trial
func (h *TrialHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	status, err := h.service.GetStatus(r.Context(), userID)
	if err != nil {
		if errors.Is(err, trial.ErrNotConfigured) {
			// 縮退モード: 未開始として返す
			writeJSONResponse(w, http.StatusOK, trial.Status{
				UsageToday: trial.DayUsage{Date: h.service.TodayKey()},
			})
			return
		}
		slog.Error("failed to get trial status",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusServiceUnavailable, model.NewTrialUnavailableError())
		return
	}

	writeJSONResponse(w, http.StatusOK, status)
}

// Start はトライアル開始日時を未設定の場合のみ設定する。冪等。
// POST /api/trial/start
func (h *TrialHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	type startResponse struct {
		TrialStartDate *time.Time `json:"trialStartDate"`
	}

	record, err := h.service.EnsureStarted(r.Context(), userID)
	if err != nil {
		if errors.Is(err, trial.ErrNotConfigured) {
			// 縮退モード: 現在時刻を開始日時として返す（永続化されない）
			now := time.Now()
			writeJSONResponse(w, http.StatusOK, startResponse{TrialStartDate: &now})
			return
		}
		slog.Error("failed to start trial",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusServiceUnavailable, model.NewTrialUnavailableError())
		return
	}

	writeJSONResponse(w, http.StatusOK, startResponse{TrialStartDate: record.TrialStartDate})
}

// Increment は本日分の生成カウンターを+1し、新しい値を返す。
// POST /api/trial/increment
func (h *TrialHandler) Increment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	usage, err := h.service.IncrementToday(r.Context(), userID)
	if err != nil {
		if errors.Is(err, trial.ErrNotConfigured) {
			// 縮退モード: カウント0を返す（上限判定はクライアント側で無効になる）
			writeJSONResponse(w, http.StatusOK, usage)
			return
		}
		slog.Error("failed to increment trial usage",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusServiceUnavailable, model.NewTrialUnavailableError())
		return
	}

	h.metrics.RecordTrialIncrement()
	writeJSONResponse(w, http.StatusOK, usage)
}
