package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/N1kunj1998/FastCaption/internal/model"
)

// PostgresTrialRepo はPostgreSQLを使用したトライアル台帳リポジトリ。
// すべての変更は単一のアトミックなupsert文で行い、呼び出し側での
// read-modify-writeを排除する（並行インクリメントでカウントを失わないため）。
type PostgresTrialRepo struct {
	db *sql.DB
}

// NewPostgresTrialRepo はPostgresTrialRepoを生成する。
func NewPostgresTrialRepo(db *sql.DB) *PostgresTrialRepo {
	return &PostgresTrialRepo{db: db}
}

// Find は指定ユーザーのtrialレコードを取得する。見つからない場合はnilを返す。
func (r *PostgresTrialRepo) Find(ctx context.Context, userID string) (*model.Trial, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT user_id, trial_start_date, usage_by_date, updated_at
		 FROM trial WHERE user_id = $1`,
		userID,
	)
	trial, err := scanTrial(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find trial: %w", err)
	}
	return trial, nil
}

// EnsureStarted はtrial_start_dateが未設定の場合のみnowを設定する。
// COALESCEにより既存の開始日時が常に優先され、並行呼び出しでも
// 最初に書き込んだ1回だけが勝つ（開始日時は以後変わらない）。
func (r *PostgresTrialRepo) EnsureStarted(ctx context.Context, userID string, now time.Time) (*model.Trial, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO trial (user_id, trial_start_date, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id) DO UPDATE
		 SET trial_start_date = COALESCE(trial.trial_start_date, EXCLUDED.trial_start_date),
		     updated_at = now()
		 RETURNING user_id, trial_start_date, usage_by_date, updated_at`,
		userID, now,
	)
	trial, err := scanTrial(row)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure trial start: %w", err)
	}
	return trial, nil
}

// IncrementUsage は指定日付キーのカウンターをアトミックに+1し、新しい値を返す。
// レコードが無ければカウント1で作成する。単一文のため並行呼び出しで更新は失われない。
func (r *PostgresTrialRepo) IncrementUsage(ctx context.Context, userID, dateKey string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO trial (user_id, usage_by_date, updated_at)
		 VALUES ($1, jsonb_build_object($2::text, 1), now())
		 ON CONFLICT (user_id) DO UPDATE
		 SET usage_by_date = jsonb_set(
		         trial.usage_by_date,
		         ARRAY[$2],
		         to_jsonb(COALESCE((trial.usage_by_date ->> $2)::int, 0) + 1)
		     ),
		     updated_at = now()
		 RETURNING (usage_by_date ->> $2)::int`,
		userID, dateKey,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return count, nil
}

// scanTrial はtrial行をスキャンし、usage_by_dateのJSONBをmapへ復元する。
func scanTrial(s scanner) (*model.Trial, error) {
	trial := &model.Trial{}
	var usageRaw []byte
	err := s.Scan(&trial.UserID, &trial.TrialStartDate, &usageRaw, &trial.UpdatedAt)
	if err != nil {
		return nil, err
	}
	trial.UsageByDate = map[string]int{}
	if len(usageRaw) > 0 {
		if err := json.Unmarshal(usageRaw, &trial.UsageByDate); err != nil {
			return nil, fmt.Errorf("failed to decode usage_by_date: %w", err)
		}
	}
	return trial, nil
}

// compile-time interface check
var _ TrialRepository = (*PostgresTrialRepo)(nil)
