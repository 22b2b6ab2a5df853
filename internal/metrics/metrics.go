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
// 認証サービス、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordSignup()
	RecordLogin(result string)
	RecordCodeConsumed(purpose string, ok bool)
	RecordOAuthCallback(result string)
	RecordRefreshRotation(result string)
	RecordGuardRejection(reason string)
	RecordHTTPRequest(method string, statusCode int, duration time.Duration)
	RecordCodesCleared(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signups          prometheus.Counter
	logins           *prometheus.CounterVec
	codesConsumed    *prometheus.CounterVec
	oauthCallbacks   *prometheus.CounterVec
	refreshRotations *prometheus.CounterVec
	guardRejections  *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpLatency      prometheus.Histogram
	codesCleared     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "afrivac_signups_total",
			Help: "ローカルサインアップの合計数",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afrivac_logins_total",
			Help: "ログイン試行の結果別合計数",
		}, []string{"result"}),
		codesConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afrivac_one_time_codes_consumed_total",
			Help: "ワンタイムコード消費の用途・結果別合計数",
		}, []string{"purpose", "result"}),
		oauthCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afrivac_oauth_callbacks_total",
			Help: "Google OAuthコールバックの結果別合計数",
		}, []string{"result"}),
		refreshRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afrivac_refresh_rotations_total",
			Help: "リフレッシュトークンローテーションの結果別合計数",
		}, []string{"result"}),
		guardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afrivac_guard_rejections_total",
			Help: "アクセスガードで拒否されたリクエストの理由別合計数",
		}, []string{"reason"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afrivac_http_requests_total",
			Help: "HTTPメソッド・ステータスコード別のレスポンス数",
		}, []string{"method", "status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "afrivac_http_request_duration_seconds",
			Help:    "HTTPリクエスト処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		codesCleared: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "afrivac_one_time_codes_cleared_total",
			Help: "クリーンアップで削除された期限切れコードの合計数",
		}),
	}

	reg.MustRegister(
		c.signups,
		c.logins,
		c.codesConsumed,
		c.oauthCallbacks,
		c.refreshRotations,
		c.guardRejections,
		c.httpRequests,
		c.httpLatency,
		c.codesCleared,
	)

	return c
}

// RecordSignup はサインアップを記録する。
func (c *Collector) RecordSignup() {
	c.signups.Inc()
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordCodeConsumed はワンタイムコードの消費結果を記録する。
func (c *Collector) RecordCodeConsumed(purpose string, ok bool) {
	result := "rejected"
	if ok {
		result = "accepted"
	}
	c.codesConsumed.WithLabelValues(purpose, result).Inc()
}

// RecordOAuthCallback はOAuthコールバックの結果を記録する。
func (c *Collector) RecordOAuthCallback(result string) {
	c.oauthCallbacks.WithLabelValues(result).Inc()
}

// RecordRefreshRotation はリフレッシュトークンローテーションの結果を記録する。
func (c *Collector) RecordRefreshRotation(result string) {
	c.refreshRotations.WithLabelValues(result).Inc()
}

// RecordGuardRejection はアクセスガードの拒否理由を記録する。
func (c *Collector) RecordGuardRejection(reason string) {
	c.guardRejections.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest はHTTPレスポンスを記録する。
func (c *Collector) RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.Observe(duration.Seconds())
}

// RecordCodesCleared はクリーンアップ件数を記録する。
func (c *Collector) RecordCodesCleared(count int64) {
	c.codesCleared.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordSignup() {}
func (Nop) RecordLogin(string) {}
func (Nop) RecordCodeConsumed(string, bool) {}
func (Nop) RecordOAuthCallback(string) {}
func (Nop) RecordRefreshRotation(string) {}
func (Nop) RecordGuardRejection(string) {}
func (Nop) RecordHTTPRequest(string, int, time.Duration) {}
func (Nop) RecordCodesCleared(int64) {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
