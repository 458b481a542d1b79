// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーや認証サービス層から利用する。
type MetricsCollector interface {
	RecordLoginSuccess()
	RecordLoginFailure(reason string)
	RecordTokenRefresh(success bool)
	RecordCheckSuccess(sourceID string)
	RecordCheckFailure(sourceID string, reason string)
	RecordCheckHTTPStatus(statusCode int)
	RecordCheckLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginSuccess prometheus.Counter
	loginFail    *prometheus.CounterVec
	tokenRefresh *prometheus.CounterVec
	checkSuccess prometheus.Counter
	checkFail    *prometheus.CounterVec
	checkStatus  *prometheus.CounterVec
	checkLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prodsource_login_success_total",
			Help: "ログイン成功の合計数",
		}),
		loginFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prodsource_login_fail_total",
			Help: "ログイン失敗の合計数（理由別）",
		}, []string{"reason"}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prodsource_token_refresh_total",
			Help: "トークンリフレッシュの合計数（結果別）",
		}, []string{"result"}),
		checkSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prodsource_check_success_total",
			Help: "ソース可用性チェック成功の合計数",
		}),
		checkFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prodsource_check_fail_total",
			Help: "ソース可用性チェック失敗の合計数（理由別）",
		}, []string{"reason"}),
		checkStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prodsource_check_http_status_total",
			Help: "ソース可用性チェックのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		checkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prodsource_check_latency_seconds",
			Help:    "ソース可用性チェックのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.loginSuccess,
		c.loginFail,
		c.tokenRefresh,
		c.checkSuccess,
		c.checkFail,
		c.checkStatus,
		c.checkLatency,
	)

	return c
}

// RecordLoginSuccess はログイン成功を記録する。
func (c *Collector) RecordLoginSuccess() {
	c.loginSuccess.Inc()
}

// RecordLoginFailure はログイン失敗を理由別に記録する。
func (c *Collector) RecordLoginFailure(reason string) {
	c.loginFail.WithLabelValues(reason).Inc()
}

// RecordTokenRefresh はトークンリフレッシュの結果を記録する。
func (c *Collector) RecordTokenRefresh(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.tokenRefresh.WithLabelValues(result).Inc()
}

// RecordCheckSuccess はチェック成功を記録する。
func (c *Collector) RecordCheckSuccess(sourceID string) {
	c.checkSuccess.Inc()
}

// RecordCheckFailure はチェック失敗を記録する。
func (c *Collector) RecordCheckFailure(sourceID string, reason string) {
	c.checkFail.WithLabelValues(reason).Inc()
}

// RecordCheckHTTPStatus はチェックのHTTPステータスコードを記録する。
func (c *Collector) RecordCheckHTTPStatus(statusCode int) {
	c.checkStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordCheckLatency はチェックのレイテンシを記録する。
func (c *Collector) RecordCheckLatency(duration time.Duration) {
	c.checkLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
