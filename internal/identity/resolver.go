// Package identity はマルチプロバイダーサインインのアカウント解決と
// 重複アカウント統合を提供する。
//
// 正規ユーザーIDは「正規化済みemail、なければ provider:sub」という導出値で、
// どのレコードが物理的に残るかに依存しない。下流（JWT、trial台帳）は
// この文字列だけを参照する。
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/N1kunj1998/FastCaption/internal/model"
	"github.com/N1kunj1998/FastCaption/internal/repository"
)

// ErrMalformedInput はproviderまたはproviderSubの欠落を表す。リトライ不可。
var ErrMalformedInput = errors.New("provider and providerSub are required")

// Resolver はサインインイベントを単一の正規アカウントへ解決する。
// 解決順序はアカウント重複・並行サインイン下での正しさのために固定されている:
//  1. email無し: providerペアで検索、無ければ新規作成
//  2. email有り: email→providerペアの順に検索し、発見したレコードへ
//     リンク/email付与を行う。どちらも無ければ挿入し、一意制約違反
//     （並行サインインとの競合）は再読込+マージで回復する。
type Resolver struct {
	users repository.UserRepository
	now   func() time.Time
}

// NewResolver はResolverを生成する。
// usersにnilを渡すと縮退モードになり、永続化なしで導出IDのみを返す
// （ストア未設定でもサインインを失敗させないため）。
func NewResolver(users repository.UserRepository) *Resolver {
	return &Resolver{
		users: users,
		now:   time.Now,
	}
}

// NormalizeEmail はemailを一意判定用に正規化する（小文字・trim）。
// 空白のみの場合は空文字列を返す。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Resolve はサインインイベントを正規ユーザーIDへ解決する。
// emailとnameは不明な場合は空文字列を渡す。
//
// 戻り値のIDはエラー時にも常に使用可能な値が入る。エラーは永続化の失敗を
// 意味し、呼び出し側はログに残した上でセッション発行を続行してよい
// （ストア障害だけでサインインを落とさないという可用性優先の選択）。
func (r *Resolver) Resolve(ctx context.Context, provider, providerSub, email, name string) (string, error) {
	if provider == "" || providerSub == "" {
		return "", ErrMalformedInput
	}

	email = NormalizeEmail(email)
	fallbackID := model.CanonicalProviderID(provider, providerSub)
	canonicalID := email
	if canonicalID == "" {
		canonicalID = fallbackID
	}

	if r.users == nil {
		slog.Debug("identity store not configured, skipping user save",
			slog.String("provider", provider),
		)
		return canonicalID, nil
	}

	ref := model.ProviderRef{Provider: provider, ProviderSub: providerSub}
	namePtr := optional(name)

	if email == "" {
		return r.resolveWithoutEmail(ctx, ref, namePtr, fallbackID)
	}
	return r.resolveWithEmail(ctx, ref, email, namePtr)
}

// resolveWithoutEmail はemail未提供のサインイン（Appleのメール非公開等）を解決する。
// providerペアのみをキーとし、既存レコードのemailがあればそれを正規IDとして返す。
func (r *Resolver) resolveWithoutEmail(ctx context.Context, ref model.ProviderRef, name *string, fallbackID string) (string, error) {
	existing, err := r.users.FindByProvider(ctx, ref.Provider, ref.ProviderSub)
	if err != nil {
		return fallbackID, fmt.Errorf("failed to find user by provider: %w", err)
	}

	if existing != nil {
		if err := r.users.AddProvider(ctx, existing.ID, ref, name); err != nil {
			return existing.CanonicalID(), fmt.Errorf("failed to refresh user: %w", err)
		}
		return existing.CanonicalID(), nil
	}

	newUser := r.newUser(nil, name, ref)
	if err := r.users.Create(ctx, newUser); err != nil {
		if errors.Is(err, repository.ErrProviderConflict) {
			// 並行サインインが先に同じペアで作成した。そのレコードを使う。
			winner, findErr := r.users.FindByProvider(ctx, ref.Provider, ref.ProviderSub)
			if findErr == nil && winner != nil {
				return winner.CanonicalID(), nil
			}
		}
		return fallbackID, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user created without email",
		slog.String("provider", ref.Provider),
	)
	return fallbackID, nil
}

// resolveWithEmail はemail付きサインインを解決する。email→providerペアの順で
// 既存レコードを探し、無ければ挿入する。挿入の一意制約違反は想定内の競合
// として再読込+マージで回復し、エラーとして伝播させない。
func (r *Resolver) resolveWithEmail(ctx context.Context, ref model.ProviderRef, email string, name *string) (string, error) {
	byEmail, err := r.users.FindByEmail(ctx, email)
	if err != nil {
		return email, fmt.Errorf("failed to find user by email: %w", err)
	}
	if byEmail != nil {
		return r.linkToEmailOwner(ctx, email, ref, name)
	}

	byProvider, err := r.users.FindByProvider(ctx, ref.Provider, ref.ProviderSub)
	if err != nil {
		return email, fmt.Errorf("failed to find user by provider: %w", err)
	}
	if byProvider != nil {
		// email無し/legacyアカウントが今回emailを検証済みで提示したケース
		if err := r.users.AttachEmail(ctx, byProvider.ID, email, name); err != nil {
			if errors.Is(err, repository.ErrEmailConflict) {
				return r.recoverEmailConflict(ctx, email, ref, name)
			}
			return email, fmt.Errorf("failed to attach email: %w", err)
		}
		slog.Info("email attached to existing user",
			slog.String("provider", ref.Provider),
		)
		return email, nil
	}

	newUser := r.newUser(&email, name, ref)
	if err := r.users.Create(ctx, newUser); err != nil {
		if errors.Is(err, repository.ErrEmailConflict) || errors.Is(err, repository.ErrProviderConflict) {
			// 同じemailの並行サインインに挿入で負けた。勝者へマージする。
			return r.recoverEmailConflict(ctx, email, ref, name)
		}
		return email, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user created",
		slog.String("provider", ref.Provider),
	)
	return email, nil
}

// linkToEmailOwner はemailを所有する最古のレコードへproviderペアをリンクし、
// 同一emailの重複レコードが残っていればその場で統合する。
// 統合失敗は個別にログへ残すのみで解決自体は成功させる（次回リトライ）。
func (r *Resolver) linkToEmailOwner(ctx context.Context, email string, ref model.ProviderRef, name *string) (string, error) {
	group, err := r.users.FindAllByEmail(ctx, email)
	if err != nil {
		return email, fmt.Errorf("failed to list duplicates: %w", err)
	}
	if len(group) == 0 {
		// 直前に削除された稀な競合。conflict回復パスに任せる。
		return r.recoverEmailConflict(ctx, email, ref, name)
	}

	keeper := group[0]
	for _, dup := range group[1:] {
		if err := r.users.MergeInto(ctx, keeper.ID, dup.ID); err != nil {
			slog.Warn("failed to merge duplicate user",
				slog.String("keeper_id", keeper.ID),
				slog.String("dup_id", dup.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := r.users.AddProvider(ctx, keeper.ID, ref, name); err != nil {
		return email, fmt.Errorf("failed to link provider: %w", err)
	}
	if !keeper.HasProvider(ref) {
		slog.Info("provider linked to existing account",
			slog.String("provider", ref.Provider),
		)
	}
	return email, nil
}

// recoverEmailConflict は挿入/付与が一意制約に敗れた後の回復パス。
// 勝者のレコードを読み直し、今回のproviderペアをそこへリンクする。
func (r *Resolver) recoverEmailConflict(ctx context.Context, email string, ref model.ProviderRef, name *string) (string, error) {
	winner, err := r.users.FindByEmail(ctx, email)
	if err != nil {
		return email, fmt.Errorf("failed to re-read after conflict: %w", err)
	}
	if winner == nil {
		return email, fmt.Errorf("email conflict without winner record: %s", email)
	}
	if err := r.users.AddProvider(ctx, winner.ID, ref, name); err != nil {
		return email, fmt.Errorf("failed to link provider after conflict: %w", err)
	}
	slog.Info("provider linked after insert race",
		slog.String("provider", ref.Provider),
	)
	return email, nil
}

// newUser は新規ユーザーレコードを組み立てる。
func (r *Resolver) newUser(email *string, name *string, ref model.ProviderRef) *model.User {
	now := r.now()
	return &model.User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      name,
		Providers: []model.ProviderRef{ref},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// optional は空文字列をnilへ写す。
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
