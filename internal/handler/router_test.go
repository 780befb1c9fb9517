package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/N1kunj1998/FastCaption/internal/auth"
	"github.com/N1kunj1998/FastCaption/internal/middleware"
	"github.com/N1kunj1998/FastCaption/internal/trial"
)

type staticTokenVerifier struct{}

func (staticTokenVerifier) Verify(token string) (*auth.Claims, error) {
	if token != "valid-token" {
		return nil, auth.ErrMissingCredential
	}
	return &auth.Claims{Sub: "s-1", Provider: "apple", UserID: "user@example.com"}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     rate.Limit(100),
		GeneralBurst:    100,
		GenerationRate:  rate.Limit(100),
		GenerationBurst: 100,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(rl.Stop)

	trialSvc := &mockTrialService{
		getStatusFn: func(ctx context.Context, userID string) (*trial.Status, error) {
			return &trial.Status{UsageToday: trial.DayUsage{Date: "2026-03-01"}}, nil
		},
	}
	authSvc := &mockAuthService{
		signInAppleFn: func(ctx context.Context, identityToken, clientName string) (*auth.SignInResult, error) {
			return &auth.SignInResult{Token: "jwt", User: auth.SessionUser{Provider: "apple"}}, nil
		},
	}

	return NewRouter(&RouterDeps{
		TokenVerifier: staticTokenVerifier{},
		RateLimiter:   rl,
		AuthService:   authSvc,
		TrialService:  trialSvc,
		ScriptService: &mockScriptService{},
		TrialMetrics:  &mockIncrementRecorder{},
	})
}

func TestRouter_HealthIsPublic(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_SignInIsPublic(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/apple", strings.NewReader(`{"identityToken": "tok"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("POST /api/auth/apple status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_TrialRequiresAuth(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/trial", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("未認証の /api/trial は401を返すべき: %d", w.Code)
	}
}

func TestRouter_TrialWithValidToken(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/trial", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("GET /api/trial status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_UnknownRouteReturns404(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("GET /api/unknown status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
