package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultGoogleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"
	defaultGoogleUserInfoURL  = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// GoogleVerifierConfig はGoogleサインイントークン検証の設定。
type GoogleVerifierConfig struct {
	ClientID string

	// テスト用にオーバーライド可能なURL
	TokenInfoURL string
	UserInfoURL  string
	HTTPClient   *http.Client
}

// GoogleVerifier はGoogleサインインのidトークン/アクセストークンを
// Googleのエンドポイント経由で検証する。
type GoogleVerifier struct {
	config GoogleVerifierConfig
}

// NewGoogleVerifier はGoogleVerifierを生成する。
func NewGoogleVerifier(config GoogleVerifierConfig) *GoogleVerifier {
	if config.TokenInfoURL == "" {
		config.TokenInfoURL = defaultGoogleTokenInfoURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoogleVerifier{config: config}
}

// VerifyIDToken はidトークンをtokeninfoエンドポイントで検証する。
// audienceが自アプリのクライアントIDであることを確認する。
// 期限切れトークンはエンドポイント側が4xxで拒否する。
func (v *GoogleVerifier) VerifyIDToken(ctx context.Context, idToken string) (*ProviderIdentity, error) {
	endpoint := v.config.TokenInfoURL + "?id_token=" + url.QueryEscape(idToken)

	var payload struct {
		Aud   string `json:"aud"`
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := v.getJSON(ctx, endpoint, "", &payload); err != nil {
		return nil, fmt.Errorf("invalid google id token: %w", err)
	}

	if payload.Aud != v.config.ClientID {
		return nil, fmt.Errorf("google id token audience mismatch")
	}
	if payload.Sub == "" {
		return nil, fmt.Errorf("google id token has no sub")
	}

	return &ProviderIdentity{
		Provider: "google",
		Sub:      payload.Sub,
		Email:    payload.Email,
		Name:     payload.Name,
	}, nil
}

// VerifyAccessToken はアクセストークンをuserinfoエンドポイントで検証する。
func (v *GoogleVerifier) VerifyAccessToken(ctx context.Context, accessToken string) (*ProviderIdentity, error) {
	var payload struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := v.getJSON(ctx, v.config.UserInfoURL, accessToken, &payload); err != nil {
		return nil, fmt.Errorf("invalid google access token: %w", err)
	}
	if payload.ID == "" {
		return nil, fmt.Errorf("google userinfo has no id")
	}

	return &ProviderIdentity{
		Provider: "google",
		Sub:      payload.ID,
		Email:    payload.Email,
		Name:     payload.Name,
	}, nil
}

// getJSON はGoogleのエンドポイントへGETし、JSONレスポンスをデコードする。
// bearerが非空の場合はAuthorizationヘッダーを付与する。
func (v *GoogleVerifier) getJSON(ctx context.Context, endpoint, bearer string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := v.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
