// Package config は環境変数ベースのアプリケーション設定を提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	// 未設定の場合、アイデンティティ永続化とtrial機能は縮退モードになる
	// （サインインは導出された正規IDのみで成功する）。
	DatabaseURL string

	// Auth
	JWTSecret      string
	TokenMaxAge    int // 発行するJWTの有効期間（秒）
	GoogleClientID string
	AppleJWKSURL   string

	// LLM
	OpenAIAPIKey  string
	OpenAIModel   string
	OllamaBaseURL string
	OllamaModel   string

	// Rate Limit（req/min/user）
	RateLimitGeneral    int
	RateLimitGeneration int

	// Store
	StoreTimeout time.Duration

	// Reconcile
	ReconcileCron string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（ローカル開発用、無ければ無視）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	var missing []string

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.TokenMaxAge = getEnvInt("TOKEN_MAX_AGE", 604800) // 7日
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.AppleJWKSURL = getEnvString("APPLE_JWKS_URL", "https://appleid.apple.com/auth/keys")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIModel = getEnvString("OPENAI_MODEL", "gpt-4o-mini")
	cfg.OllamaBaseURL = os.Getenv("OLLAMA_BASE_URL")
	cfg.OllamaModel = getEnvString("OLLAMA_MODEL", "llama3.2")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitGeneration = getEnvInt("RATE_LIMIT_GENERATION", 10)
	cfg.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 5*time.Second)
	cfg.ReconcileCron = getEnvString("RECONCILE_CRON", "@hourly")
	cfg.ServerPort = getEnvString("SERVER_PORT", "3000")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")

	return cfg, nil
}

// IdentityStoreEnabled はアイデンティティストアが設定されているかを返す。
func (c *Config) IdentityStoreEnabled() bool {
	return c.DatabaseURL != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
