// Package auth はIdPトークンの検証、アプリJWTの発行・検証、
// サインインのオーケストレーションを提供する。
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/N1kunj1998/FastCaption/internal/model"
)

// Claims はアプリが発行するセッションJWTのクレームを表す。
// UserIDは正規ユーザーID（email、なければ "provider:sub"）で、
// 以後の認証済みリクエストはすべてこの値をキーに動く。
type Claims struct {
	Sub      string
	Email    string
	Provider string
	UserID   string
}

// TokenIssuer はHS256署名のセッションJWTを発行・検証する。
type TokenIssuer struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。maxAgeSecondsはトークンの有効期間（秒）。
func NewTokenIssuer(secret string, maxAgeSeconds int) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		maxAge: time.Duration(maxAgeSeconds) * time.Second,
		now:    time.Now,
	}
}

// Issue はクレームからセッションJWTを発行する。
func (t *TokenIssuer) Issue(c Claims) (string, error) {
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      c.Sub,
		"email":    c.Email,
		"provider": c.Provider,
		"userId":   c.UserID,
		"iat":      now.Unix(),
		"exp":      now.Add(t.maxAge).Unix(),
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify はセッションJWTを検証し、クレームを返す。
// subとproviderを欠くトークンは不正として拒否する。
// UserIDクレームが無い古いトークンは "provider:sub" へフォールバックする。
func (t *TokenIssuer) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid or expired session token: %w", err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	claims := &Claims{
		Sub:      stringClaim(mapClaims, "sub"),
		Email:    stringClaim(mapClaims, "email"),
		Provider: stringClaim(mapClaims, "provider"),
		UserID:   stringClaim(mapClaims, "userId"),
	}
	if claims.Sub == "" || claims.Provider == "" {
		return nil, fmt.Errorf("invalid token payload")
	}
	if claims.UserID == "" {
		claims.UserID = model.CanonicalProviderID(claims.Provider, claims.Sub)
	}
	return claims, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}
