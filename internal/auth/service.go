package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrGoogleNotConfigured はGOOGLE_CLIENT_ID未設定を表す。
var ErrGoogleNotConfigured = errors.New("google sign-in not configured")

// ErrMissingCredential はサインインに必要なトークンの欠落を表す。
var ErrMissingCredential = errors.New("missing sign-in credential")

// AppleTokenVerifier はAppleのidentityトークン検証インターフェース。
type AppleTokenVerifier interface {
	Verify(ctx context.Context, identityToken string) (*ProviderIdentity, error)
}

// GoogleTokenVerifier はGoogleのトークン検証インターフェース。
type GoogleTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*ProviderIdentity, error)
	VerifyAccessToken(ctx context.Context, accessToken string) (*ProviderIdentity, error)
}

// AccountResolver はサインインイベントを正規ユーザーIDへ解決するインターフェース。
// identity.Resolverの部分集合として定義する。
type AccountResolver interface {
	Resolve(ctx context.Context, provider, providerSub, email, name string) (string, error)
}

// SignInRecorder はサインインメトリクスの記録インターフェース。
type SignInRecorder interface {
	RecordSignIn(provider, result string)
}

// SessionUser はサインインレスポンスに含めるユーザー表現。
type SessionUser struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	Provider string `json:"provider"`
	UserID   string `json:"userId"`
	Name     string `json:"name,omitempty"`
}

// SignInResult はサインイン成功時のレスポンス。
type SignInResult struct {
	Token string      `json:"jwt"`
	User  SessionUser `json:"user"`
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	StoreTimeout time.Duration // アイデンティティ解決1回あたりの上限時間
}

// Service はサインインのオーケストレーションを提供する。
// IdPトークン検証 → アカウント解決 → セッションJWT発行の順で処理する。
//
// アカウント解決の失敗はログに残した上で握りつぶす: ユーザーは台帳の
// 整合が取れなかった場合でもセッションを受け取り、次回サインインか
// 定期reconcileが修復する（サインインをストア都合で落とさない）。
type Service struct {
	apple    AppleTokenVerifier
	google   GoogleTokenVerifier
	resolver AccountResolver
	issuer   *TokenIssuer
	metrics  SignInRecorder
	config   ServiceConfig
}

// NewService はServiceを生成する。googleは未設定の場合nilを渡す。
func NewService(
	apple AppleTokenVerifier,
	google GoogleTokenVerifier,
	resolver AccountResolver,
	issuer *TokenIssuer,
	metrics SignInRecorder,
	config ServiceConfig,
) *Service {
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 5 * time.Second
	}
	return &Service{
		apple:    apple,
		google:   google,
		resolver: resolver,
		issuer:   issuer,
		metrics:  metrics,
		config:   config,
	}
}

// SignInApple はApple identityトークンによるサインインを処理する。
// clientNameはAppleが初回サインイン時のみクライアントへ渡す表示名で、
// トークン自体には含まれないため別フィールドで受け取る。
func (s *Service) SignInApple(ctx context.Context, identityToken, clientName string) (*SignInResult, error) {
	identity, err := s.apple.Verify(ctx, identityToken)
	if err != nil {
		s.metrics.RecordSignIn("apple", "invalid_token")
		return nil, fmt.Errorf("apple token verification failed: %w", err)
	}
	identity.Name = strings.TrimSpace(clientName)
	return s.establishSession(ctx, identity)
}

// SignInGoogle はGoogleのidトークンまたはアクセストークンによるサインインを処理する。
func (s *Service) SignInGoogle(ctx context.Context, idToken, accessToken string) (*SignInResult, error) {
	if s.google == nil {
		return nil, ErrGoogleNotConfigured
	}

	var identity *ProviderIdentity
	var err error
	switch {
	case idToken != "":
		identity, err = s.google.VerifyIDToken(ctx, idToken)
	case accessToken != "":
		identity, err = s.google.VerifyAccessToken(ctx, accessToken)
	default:
		return nil, ErrMissingCredential
	}
	if err != nil {
		s.metrics.RecordSignIn("google", "invalid_token")
		return nil, fmt.Errorf("google token verification failed: %w", err)
	}
	return s.establishSession(ctx, identity)
}

// establishSession は検証済みのIdPアイデンティティからセッションを確立する。
func (s *Service) establishSession(ctx context.Context, identity *ProviderIdentity) (*SignInResult, error) {
	resolveCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	canonicalID, err := s.resolver.Resolve(
		resolveCtx, identity.Provider, identity.Sub, identity.Email, identity.Name,
	)
	if err != nil {
		// 正規IDは返ってきている。永続化の失敗だけならセッション発行は続行する。
		slog.Warn("identity persistence failed, issuing session with derived id",
			slog.String("provider", identity.Provider),
			slog.String("error", err.Error()),
		)
	}

	token, err := s.issuer.Issue(Claims{
		Sub:      identity.Sub,
		Email:    identity.Email,
		Provider: identity.Provider,
		UserID:   canonicalID,
	})
	if err != nil {
		s.metrics.RecordSignIn(identity.Provider, "token_error")
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	s.metrics.RecordSignIn(identity.Provider, "success")
	slog.Info("user signed in",
		slog.String("provider", identity.Provider),
	)

	return &SignInResult{
		Token: token,
		User: SessionUser{
			ID:       identity.Sub,
			Email:    identity.Email,
			Provider: identity.Provider,
			UserID:   canonicalID,
			Name:     identity.Name,
		},
	}, nil
}
