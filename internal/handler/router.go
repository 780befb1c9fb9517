package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/N1kunj1998/FastCaption/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ヘルスチェック（DB未設定時はnil）
	HealthChecker HealthChecker

	// Prometheusスクレイプ用ハンドラー
	MetricsHandler http.Handler

	// サービス
	AuthService   AuthServiceInterface
	TrialService  TrialServiceInterface
	ScriptService ScriptServiceInterface

	// メトリクス
	TrialMetrics TrialIncrementRecorder
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → [Auth → RateLimit(General)]
//
// サインインルート（/api/auth/*）、/health、/metricsは認証チェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))

	authHandler := NewAuthHandler(deps.AuthService)
	trialHandler := NewTrialHandler(deps.TrialService, deps.TrialMetrics)
	scriptHandler := NewScriptHandler(deps.ScriptService)
	healthHandler := NewHealthHandler(deps.HealthChecker)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/apple", authHandler.SignInApple)
		r.Post("/google", authHandler.SignInGoogle)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// トライアル台帳
		r.Route("/api/trial", func(r chi.Router) {
			r.Get("/", trialHandler.GetStatus)
			r.Post("/start", trialHandler.Start)
			r.Post("/increment", trialHandler.Increment)
		})

		// スクリプト生成（LLM呼び出しを伴うため生成専用レート制限を追加）
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.GenerationMiddleware())

			r.Post("/api/generate-script", scriptHandler.GenerateScript)
			r.Get("/api/script-from-idea", scriptHandler.ScriptFromIdeaGet)
			r.Post("/api/script-from-idea", scriptHandler.ScriptFromIdeaPost)
			r.Post("/api/remix-hook", scriptHandler.RemixHook)
		})
	})

	return r
}
