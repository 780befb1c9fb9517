package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker はヘルスチェックに必要なDB疎通確認のインターフェース。
// sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
// DB未設定（縮退モード）ではcheckerがnilとなり、プロセス生存のみを報告する。
type HealthHandler struct {
	checker HealthChecker
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{
		checker: checker,
	}
}

// Health はサービスの稼働状態を返す。
// GET /health
// DBへ到達できない場合もプロセスは生きているため200を返し、
// database フィールドで状態を報告する。
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	type healthResponse struct {
		OK       bool   `json:"ok"`
		Database string `json:"database"`
	}

	resp := healthResponse{OK: true, Database: "not_configured"}
	if h.checker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.checker.PingContext(ctx); err != nil {
			resp.Database = "unavailable"
		} else {
			resp.Database = "ok"
		}
	}

	writeJSONResponse(w, http.StatusOK, resp)
}
