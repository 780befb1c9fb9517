// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/N1kunj1998/FastCaption/internal/model"
)

// ErrEmailConflict はemailの一意制約違反を表す。
// 同一emailに対する並行サインインの想定内の競合であり、
// 呼び出し側（Account Resolver）が再読込とマージで回復する。
var ErrEmailConflict = errors.New("email already exists")

// ErrProviderConflict は(provider, provider_sub)の一意制約違反を表す。
// 同一providerペアに対する並行作成の競合であり、呼び出し側が再読込で回復する。
var ErrProviderConflict = errors.New("provider pair already linked")

// UserRepository はユーザーアカウントの永続化インターフェース。
// すべての変更操作は単一のアトミックなストア操作として実装されなければならない。
// 読み取りは廃止予定の単一プロバイダー形式をProvidersリストへ正規化して返す。
type UserRepository interface {
	// FindByEmail は正規化済みemailでユーザーを検索する。見つからない場合はnilを返す。
	// 重複が存在する場合はcreated_atが最も古いものを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindAllByEmail は指定emailを持つ全ユーザーをcreated_at昇順で返す。
	// 一意インデックス作成前に生じた重複ドキュメントの検出に使う。
	FindAllByEmail(ctx context.Context, email string) ([]*model.User, error)

	// FindByProvider は(provider, providerSub)ペアを持つユーザーを検索する。
	// identitiesと廃止予定のlegacyカラムの両方を対象にする。見つからない場合はnilを返す。
	FindByProvider(ctx context.Context, provider, providerSub string) (*model.User, error)

	// Create はユーザーとそのprovidersを同一トランザクションで作成する。
	// emailの一意制約に違反した場合はErrEmailConflictを返す。
	Create(ctx context.Context, user *model.User) error

	// AddProvider はユーザーにproviderペアを冪等にリンクし、名前を更新する。
	// nameがnilの場合は既存の名前を維持する。legacyカラムはidentitiesへ正規化される。
	AddProvider(ctx context.Context, userID string, ref model.ProviderRef, name *string) error

	// AttachEmail はemailを持たなかった既存ユーザーにemailを付与する。
	AttachEmail(ctx context.Context, userID, email string, name *string) error

	// MergeInto はdupIDのprovidersをkeeperIDへ統合し、dupIDを削除する。
	// providerリンクは失われない。同一トランザクションで実行する。
	MergeInto(ctx context.Context, keeperID, dupID string) error

	// ListDuplicateEmails は複数ユーザーに共有されているemailの一覧を返す。
	ListDuplicateEmails(ctx context.Context) ([]string, error)

	// EnsureEmailUniqueIndex はemailの部分一意インデックス（email IS NOT NULL）を作成する。
	// 冪等。reconcile完了後に一度だけ呼ばれることを想定する。
	EnsureEmailUniqueIndex(ctx context.Context) error
}

// TrialRepository はトライアル台帳の永続化インターフェース。
type TrialRepository interface {
	// Find は指定ユーザーのtrialレコードを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, userID string) (*model.Trial, error)

	// EnsureStarted はtrial_start_dateが未設定の場合のみnowを設定する。
	// アトミックなupsertで実装され、並行呼び出しでも最初の1回だけが勝つ。
	// 操作後のレコードを返す。
	EnsureStarted(ctx context.Context, userID string, now time.Time) (*model.Trial, error)

	// IncrementUsage は指定日付キーのカウンターをアトミックに+1し、新しい値を返す。
	// レコードとカウンターが存在しなければ作成する。read-modify-writeは禁止。
	IncrementUsage(ctx context.Context, userID, dateKey string) (int, error)
}
