// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/N1kunj1998/FastCaption/internal/auth"
	"github.com/N1kunj1998/FastCaption/internal/config"
	"github.com/N1kunj1998/FastCaption/internal/database"
	"github.com/N1kunj1998/FastCaption/internal/handler"
	"github.com/N1kunj1998/FastCaption/internal/identity"
	"github.com/N1kunj1998/FastCaption/internal/logger"
	"github.com/N1kunj1998/FastCaption/internal/metrics"
	"github.com/N1kunj1998/FastCaption/internal/middleware"
	"github.com/N1kunj1998/FastCaption/internal/repository"
	"github.com/N1kunj1998/FastCaption/internal/script"
	"github.com/N1kunj1998/FastCaption/internal/security"
	"github.com/N1kunj1998/FastCaption/internal/trial"
	"github.com/N1kunj1998/FastCaption/internal/worker/reconcile"

	"golang.org/x/time/rate"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "3000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.Bool("identity_store", cfg.IdentityStoreEnabled()),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandInit:
		return runInit(cfg)
	default:
		return runServe(cfg)
	}
}

// openStore はDB接続を開く。DATABASE_URL未設定の場合はnilを返し、
// アプリは縮退モード（永続化なし）で動作する。
func openStore(cfg *config.Config) (*sql.DB, error) {
	if !cfg.IdentityStoreEnabled() {
		slog.Warn("DATABASE_URL is not set, running without identity persistence")
		return nil, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続（未設定なら縮退モード）
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	// 2. リポジトリの初期化（縮退モードではnilのまま）
	var userRepo repository.UserRepository
	var trialRepo repository.TrialRepository
	if db != nil {
		userRepo = repository.NewPostgresUserRepo(db)
		trialRepo = repository.NewPostgresTrialRepo(db)
	}

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. ドメインサービスの初期化
	resolver := identity.NewResolver(userRepo)

	appleVerifier := auth.NewAppleVerifier(auth.AppleVerifierConfig{
		JWKSURL: cfg.AppleJWKSURL,
	})
	var googleVerifier auth.GoogleTokenVerifier
	if cfg.GoogleClientID != "" {
		googleVerifier = auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
			ClientID: cfg.GoogleClientID,
		})
	}
	tokenIssuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenMaxAge)
	authService := auth.NewService(
		appleVerifier, googleVerifier, resolver, tokenIssuer, collector,
		auth.ServiceConfig{StoreTimeout: cfg.StoreTimeout},
	)

	trialService := trial.NewService(trialRepo)

	sanitizer := security.NewContentSanitizer()
	scriptService := script.NewService(newGenerator(cfg), sanitizer, collector)

	// 5. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.GenerationRate = rate.Limit(float64(cfg.RateLimitGeneration) / 60.0)
	rateLimiterCfg.GenerationBurst = cfg.RateLimitGeneration
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		TokenVerifier:     tokenIssuer,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		MetricsHandler: metrics.Handler(registry),

		AuthService:   authService,
		TrialService:  trialService,
		ScriptService: scriptService,

		TrialMetrics: collector,
	}
	if db != nil {
		deps.HealthChecker = db
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 180 * time.Second, // LLM生成は長時間かかる
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newGenerator は設定からLLMバックエンドを選択する。
// OpenAIを優先し、未設定の場合はOllamaへフォールバックする。
// どちらも未設定の場合はnilを返し、生成APIは503を返す。
func newGenerator(cfg *config.Config) script.Generator {
	if cfg.OpenAIAPIKey != "" {
		slog.Info("script generation backend: openai",
			slog.String("model", cfg.OpenAIModel),
		)
		return script.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	}
	if cfg.OllamaBaseURL != "" {
		slog.Info("script generation backend: ollama",
			slog.String("model", cfg.OllamaModel),
		)
		return script.NewOllamaGenerator(cfg.OllamaBaseURL, cfg.OllamaModel)
	}
	slog.Warn("no LLM backend configured, script generation is disabled")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、重複アカウント統合のスケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if !cfg.IdentityStoreEnabled() {
		return fmt.Errorf("worker mode requires DATABASE_URL")
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	userRepo := repository.NewPostgresUserRepo(db)
	reconciler := identity.NewReconciler(userRepo, slog.Default())

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	scheduler := reconcile.NewScheduler(reconciler, collector, slog.Default(), cfg.ReconcileCron)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.String("reconcile_cron", cfg.ReconcileCron),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler failed: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if !cfg.IdentityStoreEnabled() {
		return fmt.Errorf("migrate requires DATABASE_URL")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runInit はアイデンティティストアの初期化を実行する。
// 重複アカウント統合を完走させてからemailの一意インデックスを作成する。
// マイグレーション適用後、本番トラフィック受け入れ前に1回実行する。冪等。
func runInit(cfg *config.Config) error {
	if !cfg.IdentityStoreEnabled() {
		return fmt.Errorf("init requires DATABASE_URL")
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	userRepo := repository.NewPostgresUserRepo(db)
	reconciler := identity.NewReconciler(userRepo, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	return reconciler.Initialize(ctx)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
