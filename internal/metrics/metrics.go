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
// 認証サービス、ミドルウェア、天気クライアントから利用する。
type MetricsCollector interface {
	RecordLogin(result string)
	RecordTokenRefresh(success bool)
	RecordRateLimited(scope string)
	RecordHTTPStatus(statusCode int)
	RecordUpstreamLatency(endpoint string, duration time.Duration)
	RecordUpstreamFailure(endpoint string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	reg             prometheus.Registerer
	logins          *prometheus.CounterVec
	tokenRefresh    *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	upstreamFail    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reg: reg,
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_dashboard_logins_total",
			Help: "ログイン試行の結果別件数",
		}, []string{"result"}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_dashboard_token_refresh_total",
			Help: "OIDCトークン更新の結果別件数",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_dashboard_rate_limited_total",
			Help: "レート制限で拒否したリクエスト数",
		}, []string{"scope"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_dashboard_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "weather_dashboard_upstream_latency_seconds",
			Help:    "天気サービス呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		upstreamFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_dashboard_upstream_failures_total",
			Help: "天気サービス呼び出し失敗の件数",
		}, []string{"endpoint"}),
	}

	reg.MustRegister(
		c.logins,
		c.tokenRefresh,
		c.rateLimited,
		c.httpStatus,
		c.upstreamLatency,
		c.upstreamFail,
	)

	return c
}

// RegisterGauge は呼び出し時に値を評価するゲージを登録する。
// セッション数など、他コンポーネントが保持する値の公開に使用する。
func (c *Collector) RegisterGauge(name, help string, fn func() float64) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, fn))
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordTokenRefresh はトークン更新の結果を記録する。
func (c *Collector) RecordTokenRefresh(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.tokenRefresh.WithLabelValues(result).Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(scope string) {
	c.rateLimited.WithLabelValues(scope).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordUpstreamLatency は天気サービス呼び出しのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(endpoint string, duration time.Duration) {
	c.upstreamLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordUpstreamFailure は天気サービス呼び出しの失敗を記録する。
func (c *Collector) RecordUpstreamFailure(endpoint string) {
	c.upstreamFail.WithLabelValues(endpoint).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordLogin(string)                          {}
func (Nop) RecordTokenRefresh(bool)                     {}
func (Nop) RecordRateLimited(string)                    {}
func (Nop) RecordHTTPStatus(int)                        {}
func (Nop) RecordUpstreamLatency(string, time.Duration) {}
func (Nop) RecordUpstreamFailure(string)                {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
