// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ハンドシェイク消費・トークンリフレッシュ・ドキュメント参照の結果ラベル。
const (
	ResultSuccess  = "success"
	ResultNotFound = "not_found"
	ResultExpired  = "expired"
	ResultConsumed = "consumed"
	ResultRejected = "rejected"
	ResultFailure  = "failure"
	ResultHit      = "hit"
	ResultMiss     = "miss"
	ResultRace     = "race"
)

// MetricsCollector はメトリクス収集のインターフェース。
// コアコンポーネントやワーカーから利用する。
type MetricsCollector interface {
	RecordHandshakeConsume(result string)
	RecordTokenRefresh(result string, duration time.Duration)
	RecordDocumentLookup(kind string, result string)
	RecordParseLatency(kind string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordCleanupDeleted(target string, count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	handshakeConsume *prometheus.CounterVec
	tokenRefresh     *prometheus.CounterVec
	refreshLatency   prometheus.Histogram
	documentLookup   *prometheus.CounterVec
	parseLatency     *prometheus.HistogramVec
	httpStatus       *prometheus.CounterVec
	cleanupDeleted   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		handshakeConsume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobsync_handshake_consume_total",
			Help: "ハンドシェイクstate消費の結果別件数",
		}, []string{"result"}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobsync_token_refresh_total",
			Help: "トークンリフレッシュの結果別件数",
		}, []string{"result"}),
		refreshLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobsync_token_refresh_latency_seconds",
			Help:    "トークンリフレッシュのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		documentLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobsync_document_lookup_total",
			Help: "ドキュメントキャッシュ参照の結果別件数（hit/miss/race）",
		}, []string{"kind", "result"}),
		parseLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobsync_document_parse_latency_seconds",
			Help:    "外部パーサー/フェッチャーのレイテンシ（秒）",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobsync_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobsync_cleanup_deleted_total",
			Help: "クリーンアップで削除された行数",
		}, []string{"target"}),
	}

	reg.MustRegister(
		c.handshakeConsume,
		c.tokenRefresh,
		c.refreshLatency,
		c.documentLookup,
		c.parseLatency,
		c.httpStatus,
		c.cleanupDeleted,
	)

	return c
}

// RecordHandshakeConsume はstate消費の結果を記録する。
func (c *Collector) RecordHandshakeConsume(result string) {
	c.handshakeConsume.WithLabelValues(result).Inc()
}

// RecordTokenRefresh はリフレッシュの結果とレイテンシを記録する。
func (c *Collector) RecordTokenRefresh(result string, duration time.Duration) {
	c.tokenRefresh.WithLabelValues(result).Inc()
	c.refreshLatency.Observe(duration.Seconds())
}

// RecordDocumentLookup はキャッシュ参照の結果を記録する。
func (c *Collector) RecordDocumentLookup(kind string, result string) {
	c.documentLookup.WithLabelValues(kind, result).Inc()
}

// RecordParseLatency はパースのレイテンシを記録する。
func (c *Collector) RecordParseLatency(kind string, duration time.Duration) {
	c.parseLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordCleanupDeleted はクリーンアップの削除件数を記録する。
func (c *Collector) RecordCleanupDeleted(target string, count int64) {
	c.cleanupDeleted.WithLabelValues(target).Add(float64(count))
}

// RegisterLockTableSize はプリンシパル別リフレッシュロックの保持数をスクレイプ時に読むGaugeFuncを登録する。
func RegisterLockTableSize(reg prometheus.Registerer, size func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "jobsync_token_lock_entries",
		Help: "リフレッシュ用ロックテーブルに保持されているプリンシパル数",
	}, func() float64 {
		return float64(size())
	}))
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordHandshakeConsume(string)            {}
func (Nop) RecordTokenRefresh(string, time.Duration) {}
func (Nop) RecordDocumentLookup(string, string)      {}
func (Nop) RecordParseLatency(string, time.Duration) {}
func (Nop) RecordHTTPStatus(int)                     {}
func (Nop) RecordCleanupDeleted(string, int64)       {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

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
