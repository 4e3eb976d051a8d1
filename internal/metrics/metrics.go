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
// フィード取得、発報判定、通知の各層から利用する。
type MetricsCollector interface {
	RecordFetchSuccess(feedURL string)
	RecordFetchFailure(feedURL string, reason string)
	RecordParseFailure(feedURL string)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordEntriesChanged(count int)
	RecordActivation(menuType, mode string)
	RecordIncident(menuType, mode, outcome string)
	RecordNotification(result string)
	RecordWatchdogAlert()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchSuccess   prometheus.Counter
	fetchFail      *prometheus.CounterVec
	parseFail      prometheus.Counter
	httpStatus     *prometheus.CounterVec
	fetchLatency   prometheus.Histogram
	entriesChanged prometheus.Counter
	activations    *prometheus.CounterVec
	incidents      *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	watchdogAlerts prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anpi_fetch_success_total",
			Help: "フィード取得成功の合計数",
		}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anpi_fetch_fail_total",
			Help: "フィード取得失敗の合計数",
		}, []string{"reason"}),
		parseFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anpi_parse_fail_total",
			Help: "フィードパース失敗の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anpi_http_status_total",
			Help: "取得先HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "anpi_fetch_latency_seconds",
			Help:    "フィード取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		entriesChanged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anpi_entries_changed_total",
			Help: "内容が変化したエントリの合計数",
		}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anpi_activations_total",
			Help: "発報判定に一致した件数",
		}, []string{"menu_type", "mode"}),
		incidents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anpi_incidents_total",
			Help: "インシデント処理結果別の件数",
		}, []string{"menu_type", "mode", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anpi_notifications_total",
			Help: "通知送信結果別の件数",
		}, []string{"result"}),
		watchdogAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anpi_watchdog_alerts_total",
			Help: "受信停止アラートの送信回数",
		}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.parseFail,
		c.httpStatus,
		c.fetchLatency,
		c.entriesChanged,
		c.activations,
		c.incidents,
		c.notifications,
		c.watchdogAlerts,
	)

	return c
}

// RecordFetchSuccess はフィード取得成功を記録する。
func (c *Collector) RecordFetchSuccess(feedURL string) {
	c.fetchSuccess.Inc()
}

// RecordFetchFailure はフィード取得失敗を記録する。
func (c *Collector) RecordFetchFailure(feedURL string, reason string) {
	c.fetchFail.WithLabelValues(reason).Inc()
}

// RecordParseFailure はパース失敗を記録する。
func (c *Collector) RecordParseFailure(feedURL string) {
	c.parseFail.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はフィード取得のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordEntriesChanged は変更検知されたエントリ数を記録する。
func (c *Collector) RecordEntriesChanged(count int) {
	c.entriesChanged.Add(float64(count))
}

// RecordActivation は発報判定の一致を記録する。
func (c *Collector) RecordActivation(menuType, mode string) {
	c.activations.WithLabelValues(menuType, mode).Inc()
}

// RecordIncident はインシデント処理の結果（created, duplicate, suppressed, superseded, rolled_back）を記録する。
func (c *Collector) RecordIncident(menuType, mode, outcome string) {
	c.incidents.WithLabelValues(menuType, mode, outcome).Inc()
}

// RecordNotification は通知送信の結果（sent, failed）を記録する。
func (c *Collector) RecordNotification(result string) {
	c.notifications.WithLabelValues(result).Inc()
}

// RecordWatchdogAlert は受信停止アラートの送信を記録する。
func (c *Collector) RecordWatchdogAlert() {
	c.watchdogAlerts.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストや単発コマンドで使用する。
type Nop struct{}

func (Nop) RecordFetchSuccess(string)             {}
func (Nop) RecordFetchFailure(string, string)     {}
func (Nop) RecordParseFailure(string)             {}
func (Nop) RecordHTTPStatus(int)                  {}
func (Nop) RecordFetchLatency(time.Duration)      {}
func (Nop) RecordEntriesChanged(int)              {}
func (Nop) RecordActivation(string, string)       {}
func (Nop) RecordIncident(string, string, string) {}
func (Nop) RecordNotification(string)             {}
func (Nop) RecordWatchdogAlert()                  {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
