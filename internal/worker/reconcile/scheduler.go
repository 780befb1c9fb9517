// Package reconcile は重複アカウント統合の定期実行を提供する。
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/N1kunj1998/FastCaption/internal/identity"
)

// MergeRecorder は統合メトリクスの記録インターフェース。
type MergeRecorder interface {
	RecordReconcileMerge(count int)
}

// Scheduler はcron式に従って重複アカウント統合を定期実行する。
// 起動直後に1回実行し、以降はスケジュールに従う。
type Scheduler struct {
	reconciler *identity.Reconciler
	metrics    MergeRecorder
	logger     *slog.Logger
	spec       string
	runTimeout time.Duration
}

// NewScheduler はSchedulerを生成する。specはcron式（例: "@hourly"）。
func NewScheduler(reconciler *identity.Reconciler, metrics MergeRecorder, logger *slog.Logger, spec string) *Scheduler {
	return &Scheduler{
		reconciler: reconciler,
		metrics:    metrics,
		logger:     logger,
		spec:       spec,
		runTimeout: 10 * time.Minute,
	}
}

// Start はスケジューラを起動し、ctxがキャンセルされるまでブロックする。
func (s *Scheduler) Start(ctx context.Context) error {
	// 起動直後に1回実行（プロセス再起動のたびに修復が進む）
	s.runOnce(ctx)

	c := cron.New()
	_, err := c.AddFunc(s.spec, func() {
		s.runOnce(ctx)
	})
	if err != nil {
		return err
	}

	c.Start()
	s.logger.Info("reconcile scheduler started",
		slog.String("spec", s.spec),
	)

	<-ctx.Done()

	stopCtx := c.Stop()
	<-stopCtx.Done()
	s.logger.Info("reconcile scheduler stopped")
	return nil
}

// runOnce は統合を1回実行する。
func (s *Scheduler) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	merged, err := s.reconciler.ReconcileAll(runCtx)
	if err != nil {
		s.logger.Error("reconcile run failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if merged > 0 {
		s.metrics.RecordReconcileMerge(merged)
	}
}
