// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordSignIn(provider string, result string)
	RecordTrialIncrement()
	RecordReconcileMerge(count int)
	RecordGeneration(backend string, status string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signIn            *prometheus.CounterVec
	trialIncrement    prometheus.Counter
	reconcileMerges   prometheus.Counter
	generation        *prometheus.CounterVec
	generationLatency prometheus.Histogram
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fastcaption_signin_total",
			Help: "プロバイダー・結果別のサインイン試行数",
		}, []string{"provider", "result"}),
		trialIncrement: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fastcaption_trial_increment_total",
			Help: "トライアル生成カウンターのインクリメント合計数",
		}),
		reconcileMerges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fastcaption_reconcile_merges_total",
			Help: "重複アカウント統合の合計数",
		}),
		generation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fastcaption_generation_total",
			Help: "バックエンド・結果別のスクリプト生成数",
		}, []string{"backend", "status"}),
		generationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fastcaption_generation_latency_seconds",
			Help:    "スクリプト生成のレイテンシ（秒）",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
	}

	reg.MustRegister(
		c.signIn,
		c.trialIncrement,
		c.reconcileMerges,
		c.generation,
		c.generationLatency,
	)

	return c
}

// RecordSignIn はサインイン試行を記録する。
func (c *Collector) RecordSignIn(provider string, result string) {
	c.signIn.WithLabelValues(provider, result).Inc()
}

// RecordTrialIncrement はトライアルカウンターのインクリメントを記録する。
func (c *Collector) RecordTrialIncrement() {
	c.trialIncrement.Inc()
}

// RecordReconcileMerge は重複アカウント統合を記録する。
func (c *Collector) RecordReconcileMerge(count int) {
	c.reconcileMerges.Add(float64(count))
}

// RecordGeneration はスクリプト生成の結果とレイテンシを記録する。
func (c *Collector) RecordGeneration(backend string, status string, duration time.Duration) {
	c.generation.WithLabelValues(backend, status).Inc()
	c.generationLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
