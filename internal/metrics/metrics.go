// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// アップロード・ジオコーディングの結果ラベル
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
	OutcomeNotFound = "not_found"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とライブフィードから利用する。
type MetricsCollector interface {
	RecordReportCreated()
	RecordReportUpdated()
	RecordUpload(outcome string)
	RecordGeocodeLookup(outcome string, duration time.Duration)
	SetFeedSubscribers(n int)
	RecordSnapshotBroadcast(reports int)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	reportsCreated  prometheus.Counter
	reportsUpdated  prometheus.Counter
	uploads         *prometheus.CounterVec
	geocodeLookups  *prometheus.CounterVec
	geocodeLatency  prometheus.Histogram
	feedSubscribers prometheus.Gauge
	snapshotsSent   prometheus.Counter
	snapshotSize    prometheus.Histogram
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reportsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lostfound_reports_created_total",
			Help: "作成されたレポートの合計数",
		}),
		reportsUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lostfound_reports_updated_total",
			Help: "編集されたレポートの合計数",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lostfound_uploads_total",
			Help: "結果別の画像アップロード数",
		}, []string{"outcome"}),
		geocodeLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lostfound_geocode_lookups_total",
			Help: "結果別の地名検索数",
		}, []string{"outcome"}),
		geocodeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lostfound_geocode_latency_seconds",
			Help:    "地名検索APIのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		feedSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lostfound_feed_subscribers",
			Help: "ライブフィードの接続中購読者数",
		}),
		snapshotsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lostfound_feed_snapshots_total",
			Help: "配信したスナップショットの合計数",
		}),
		snapshotSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lostfound_feed_snapshot_reports",
			Help:    "1スナップショットあたりのレポート数",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lostfound_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.reportsCreated,
		c.reportsUpdated,
		c.uploads,
		c.geocodeLookups,
		c.geocodeLatency,
		c.feedSubscribers,
		c.snapshotsSent,
		c.snapshotSize,
		c.httpStatus,
	)

	return c
}

// RecordReportCreated はレポート作成を記録する。
func (c *Collector) RecordReportCreated() {
	c.reportsCreated.Inc()
}

// RecordReportUpdated はレポート編集を記録する。
func (c *Collector) RecordReportUpdated() {
	c.reportsUpdated.Inc()
}

// RecordUpload は画像アップロードの結果を記録する。
func (c *Collector) RecordUpload(outcome string) {
	c.uploads.WithLabelValues(outcome).Inc()
}

// RecordGeocodeLookup は地名検索の結果とレイテンシを記録する。
func (c *Collector) RecordGeocodeLookup(outcome string, duration time.Duration) {
	c.geocodeLookups.WithLabelValues(outcome).Inc()
	c.geocodeLatency.Observe(duration.Seconds())
}

// SetFeedSubscribers は接続中の購読者数を設定する。
func (c *Collector) SetFeedSubscribers(n int) {
	c.feedSubscribers.Set(float64(n))
}

// RecordSnapshotBroadcast はスナップショット配信を記録する。
func (c *Collector) RecordSnapshotBroadcast(reports int) {
	c.snapshotsSent.Inc()
	c.snapshotSize.Observe(float64(reports))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordReportCreated()                      {}
func (Nop) RecordReportUpdated()                      {}
func (Nop) RecordUpload(string)                       {}
func (Nop) RecordGeocodeLookup(string, time.Duration) {}
func (Nop) SetFeedSubscribers(int)                    {}
func (Nop) RecordSnapshotBroadcast(int)               {}
func (Nop) RecordHTTPStatus(int)                      {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
