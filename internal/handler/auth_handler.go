package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/N1kunj1998/FastCaption/internal/auth"
	"github.com/N1kunj1998/FastCaption/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignInApple(ctx context.Context, identityToken, clientName string) (*auth.SignInResult, error)
	SignInGoogle(ctx context.Context, idToken, accessToken string) (*auth.SignInResult, error)
}

// AuthHandler はサインインのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{
		service: service,
	}
}

// SignInApple はApple identityトークンによるサインインを処理する。
// POST /api/auth/apple
func (h *AuthHandler) SignInApple(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IdentityToken string `json:"identityToken"`
		Name          string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IdentityToken == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldError("identityToken"))
		return
	}

	result, err := h.service.SignInApple(r.Context(), req.IdentityToken, req.Name)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewInvalidProviderTokenError("Apple"))
		return
	}

	writeJSONResponse(w, http.StatusOK, result)
}

// SignInGoogle はGoogleのidトークンまたはアクセストークンによるサインインを処理する。
// POST /api/auth/google
func (h *AuthHandler) SignInGoogle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken     string `json:"idToken"`
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldError("idToken または accessToken"))
		return
	}

	result, err := h.service.SignInGoogle(r.Context(), req.IDToken, req.AccessToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrGoogleNotConfigured):
			writeAPIErrorResponse(w, http.StatusServiceUnavailable, model.NewProviderNotConfiguredError("Google"))
		case errors.Is(err, auth.ErrMissingCredential):
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldError("idToken または accessToken"))
		default:
			writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewInvalidProviderTokenError("Google"))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, result)
}
