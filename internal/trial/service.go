// Package trial はアカウントごとのトライアル台帳を提供する。
//
// ストアには開始日時と日付別の生の生成カウンターのみを保持し、
// 「期限切れ」「本日上限到達」等のポリシー判定はすべて読み取り時に
// 純粋関数で導出する。フラグを保存しないことでポリシーと保存状態の
// 乖離を防ぎ、トライアル日数や日次上限の変更を定数変更だけにする。
package trial

import (
	"context"
	"errors"
	"time"

	"github.com/N1kunj1998/FastCaption/internal/model"
	"github.com/N1kunj1998/FastCaption/internal/repository"
)

const (
	// TrialDays はトライアル期間の日数。
	TrialDays = 3
	// DailyLimitTrial はトライアル中の1日あたり生成上限。
	DailyLimitTrial = 10
)

// ErrNotConfigured はトライアルストアが未設定であることを表す。
// 呼び出し側は「トライアル未開始」として縮退してよい。
var ErrNotConfigured = errors.New("trial store not configured")

// DayUsage は特定日付キーの生成回数を表す。
type DayUsage struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Status はトライアル状態の読み取りスナップショット。
type Status struct {
	TrialStartDate *time.Time `json:"trialStartDate"`
	UsageToday     DayUsage   `json:"usageToday"`
}

// Service はトライアル台帳のビジネスロジックを提供する。
type Service struct {
	repo repository.TrialRepository
	now  func() time.Time
}

// NewService はServiceを生成する。repoにnilを渡すと縮退モードになり、
// 各操作はErrNotConfiguredを返す。
func NewService(repo repository.TrialRepository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// EnsureStarted はトライアル開始日時を未設定の場合のみ現在時刻に設定し、
// 操作後のレコードを返す。冪等: 何度呼んでも最初の開始日時は変わらない。
func (s *Service) EnsureStarted(ctx context.Context, userID string) (*model.Trial, error) {
	if s.repo == nil {
		return nil, ErrNotConfigured
	}
	return s.repo.EnsureStarted(ctx, userID, s.now())
}

// IncrementToday は本日分の生成カウンターをアトミックに+1し、新しい値を返す。
func (s *Service) IncrementToday(ctx context.Context, userID string) (DayUsage, error) {
	today := s.TodayKey()
	if s.repo == nil {
		return DayUsage{Date: today, Count: 0}, ErrNotConfigured
	}
	count, err := s.repo.IncrementUsage(ctx, userID, today)
	if err != nil {
		return DayUsage{Date: today}, err
	}
	return DayUsage{Date: today, Count: count}, nil
}

// GetStatus はトライアル状態の読み取りスナップショットを返す。
// レコードが無い場合は未開始（開始日時null、本日カウント0）として扱う。
func (s *Service) GetStatus(ctx context.Context, userID string) (*Status, error) {
	today := s.TodayKey()
	if s.repo == nil {
		return nil, ErrNotConfigured
	}

	trial, err := s.repo.Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	status := &Status{UsageToday: DayUsage{Date: today}}
	if trial != nil {
		status.TrialStartDate = trial.TrialStartDate
		status.UsageToday.Count = trial.UsageOn(today)
	}
	return status, nil
}

// TodayKey は本日の日付キーを返す。
// サーバーのローカル時刻基準で、日次リセットはサーバーの深夜0時に起こる。
func (s *Service) TodayKey() string {
	return DateKey(s.now())
}

// DateKey は時刻をYYYY-MM-DD形式の日付キーへ変換する。
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Expired はトライアル期間が終了しているかを返す。
// 境界は排他的: now == start + TrialDays のちょうどその瞬間で期限切れになる。
func Expired(start, now time.Time) bool {
	return !now.Before(start.Add(TrialDays * 24 * time.Hour))
}

// AtDailyLimit は本日分の生成が上限に達しているかを返す。
func AtDailyLimit(count int) bool {
	return count >= DailyLimitTrial
}
