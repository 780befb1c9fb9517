package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultAppleJWKSURL = "https://appleid.apple.com/auth/keys"

// jwksKeyTTL はJWKSキャッシュの有効期間。未知のkidに遭遇した場合も
// この間隔より短い頻度では再取得しない（キーローテーション対応）。
const jwksKeyTTL = time.Hour

// ProviderIdentity はIdPが検証済みで主張するユーザー情報を表す。
type ProviderIdentity struct {
	Provider string
	Sub      string
	Email    string
	Name     string
}

// AppleVerifierConfig はApple identityトークン検証の設定。
type AppleVerifierConfig struct {
	// テスト用にオーバーライド可能なJWKSエンドポイント
	JWKSURL    string
	HTTPClient *http.Client
}

// AppleVerifier はSign in with AppleのidentityトークンをAppleの公開鍵
// （JWKS）で検証する。鍵はkidごとにキャッシュし、HTTPで遅延取得する。
type AppleVerifier struct {
	config AppleVerifierConfig

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewAppleVerifier はAppleVerifierを生成する。
func NewAppleVerifier(config AppleVerifierConfig) *AppleVerifier {
	if config.JWKSURL == "" {
		config.JWKSURL = defaultAppleJWKSURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &AppleVerifier{
		config: config,
		keys:   map[string]*rsa.PublicKey{},
	}
}

// Verify はidentityトークンの署名と有効期限を検証し、ユーザー情報を返す。
// emailはAppleのメール非公開設定では空になり得る。
func (v *AppleVerifier) Verify(ctx context.Context, identityToken string) (*ProviderIdentity, error) {
	token, err := jwt.Parse(identityToken, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("identity token has no kid header")
		}
		return v.signingKey(ctx, kid)
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid apple identity token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid apple token claims")
	}
	sub := stringClaim(claims, "sub")
	if sub == "" {
		return nil, fmt.Errorf("apple token has no sub claim")
	}

	return &ProviderIdentity{
		Provider: "apple",
		Sub:      sub,
		Email:    stringClaim(claims, "email"),
	}, nil
}

// signingKey はkidに対応するRSA公開鍵をキャッシュまたはJWKSから取得する。
func (v *AppleVerifier) signingKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	if time.Since(v.fetchedAt) < jwksKeyTTL && len(v.keys) > 0 {
		return nil, fmt.Errorf("unknown apple signing key: %s", kid)
	}

	keys, err := v.fetchJWKS(ctx)
	if err != nil {
		return nil, err
	}
	v.keys = keys
	v.fetchedAt = time.Now()

	key, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown apple signing key: %s", kid)
	}
	return key, nil
}

// jwk はJWKSレスポンス内の1つの鍵を表す。
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// fetchJWKS はAppleのJWKSエンドポイントから公開鍵一覧を取得する。
func (v *AppleVerifier) fetchJWKS(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.JWKSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create jwks request: %w", err)
	}

	resp, err := v.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch apple jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("apple jwks returned status %d", resp.StatusCode)
	}

	var payload struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode apple jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(payload.Keys))
	for _, k := range payload.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		key, err := rsaPublicKey(k)
		if err != nil {
			return nil, fmt.Errorf("failed to parse apple jwk %s: %w", k.Kid, err)
		}
		keys[k.Kid] = key
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("apple jwks contained no usable keys")
	}
	return keys, nil
}

// rsaPublicKey はJWKのn/e（base64url）からRSA公開鍵を復元する。
func rsaPublicKey(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, fmt.Errorf("zero exponent")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
