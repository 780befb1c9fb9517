package model

import "time"

// Trial はアカウントごとのトライアル状態を表す。
// UserIDは正規ユーザーID（Email、なければ "provider:sub"）で、
// アカウント統合後も安定な文字列をキーとする。
type Trial struct {
	UserID         string
	TrialStartDate *time.Time
	UsageByDate    map[string]int
	UpdatedAt      time.Time
}

// UsageOn は指定日付キー（YYYY-MM-DD）の生成回数を返す。記録がなければ0。
func (t *Trial) UsageOn(dateKey string) int {
	if t == nil || t.UsageByDate == nil {
		return 0
	}
	return t.UsageByDate[dateKey]
}
