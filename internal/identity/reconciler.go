package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/N1kunj1998/FastCaption/internal/repository"
)

// Reconciler は同一emailを共有する重複ユーザーレコードを1つへ統合する。
// 一意インデックス導入以前に作られた過去データの修復が目的で、
// 冪等かつ稼働中トラフィックと並行して安全に実行できる。
type Reconciler struct {
	users  repository.UserRepository
	logger *slog.Logger
}

// NewReconciler はReconcilerを生成する。
func NewReconciler(users repository.UserRepository, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		users:  users,
		logger: logger,
	}
}

// ReconcileAll は重複emailを持つ全グループを統合する。
// 各グループでcreated_atが最も古いレコードをkeeperとし、残りのproviders
// をunionしてkeeperへ移した上で削除する。providerリンクは失われない。
//
// グループ単位のベストエフォート: あるグループの統合失敗は他グループの
// 処理を妨げず、次回実行（次のプロセス起動またはスケジュール実行）で
// リトライされる。戻り値は統合できたグループ数。
func (rc *Reconciler) ReconcileAll(ctx context.Context) (int, error) {
	emails, err := rc.users.ListDuplicateEmails(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list duplicate emails: %w", err)
	}

	merged := 0
	for _, email := range emails {
		if err := rc.reconcileGroup(ctx, email); err != nil {
			rc.logger.Warn("duplicate group reconcile failed",
				slog.String("error", err.Error()),
			)
			continue
		}
		merged++
	}

	if len(emails) > 0 {
		rc.logger.Info("duplicate users reconciled",
			slog.Int("groups_found", len(emails)),
			slog.Int("groups_merged", merged),
		)
	}
	return merged, nil
}

// Initialize は本番トラフィック受け入れ前の明示的な初期化ステップ。
// 重複統合を完走させてからemailの疎一意インデックスを作成する。
// この順序でないと過去の正当なデータがインデックス作成で拒否される。
// 冪等で、デプロイ層が何度呼んでも安全。
func (rc *Reconciler) Initialize(ctx context.Context) error {
	if _, err := rc.ReconcileAll(ctx); err != nil {
		return err
	}
	if err := rc.users.EnsureEmailUniqueIndex(ctx); err != nil {
		return err
	}
	rc.logger.Info("identity store initialized: duplicates merged, unique email index ensured")
	return nil
}

// reconcileGroup は1つのemailグループを統合する。
func (rc *Reconciler) reconcileGroup(ctx context.Context, email string) error {
	group, err := rc.users.FindAllByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to load group: %w", err)
	}
	if len(group) < 2 {
		// 並行する解決処理が先に統合済み
		return nil
	}

	keeper := group[0]
	for _, dup := range group[1:] {
		if err := rc.users.MergeInto(ctx, keeper.ID, dup.ID); err != nil {
			return fmt.Errorf("failed to merge into keeper %s: %w", keeper.ID, err)
		}
	}

	rc.logger.Info("merged duplicate users",
		slog.Int("count", len(group)),
	)
	return nil
}
