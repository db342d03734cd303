// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアやサービス層から利用する。
type MetricsCollector interface {
	RecordSessionStarted(waveType string)
	RecordSessionEnded(waveType string, completed bool)
	RecordMinutesCredited(minutes int64)
	RecordProfileProvisioned(path string)
	RecordAuthFailure(reason string)
	RecordNotificationFailure(kind string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sessionsStarted     *prometheus.CounterVec
	sessionsEnded       *prometheus.CounterVec
	minutesCredited     prometheus.Counter
	profilesProvisioned *prometheus.CounterVec
	authFailures        *prometheus.CounterVec
	notifyFailures      *prometheus.CounterVec
	httpStatus          *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digitalcoffee_sessions_started_total",
			Help: "開始された再生セッション数",
		}, []string{"wave_type"}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digitalcoffee_sessions_ended_total",
			Help: "終了した再生セッション数",
		}, []string{"wave_type", "completed"}),
		minutesCredited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "digitalcoffee_minutes_credited_total",
			Help: "統計に加算された再生時間（分）の合計",
		}),
		profilesProvisioned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digitalcoffee_profiles_provisioned_total",
			Help: "作成経路別のプロフィール作成数",
		}, []string{"path"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digitalcoffee_auth_failures_total",
			Help: "理由別の認証失敗数",
		}, []string{"reason"}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digitalcoffee_notification_failures_total",
			Help: "種類別のメール送信失敗数",
		}, []string{"kind"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digitalcoffee_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.sessionsStarted,
		c.sessionsEnded,
		c.minutesCredited,
		c.profilesProvisioned,
		c.authFailures,
		c.notifyFailures,
		c.httpStatus,
	)

	return c
}

// RecordSessionStarted はセッション開始を記録する。
func (c *Collector) RecordSessionStarted(waveType string) {
	c.sessionsStarted.WithLabelValues(waveType).Inc()
}

// RecordSessionEnded はセッション終了を記録する。
func (c *Collector) RecordSessionEnded(waveType string, completed bool) {
	c.sessionsEnded.WithLabelValues(waveType, strconv.FormatBool(completed)).Inc()
}

// RecordMinutesCredited は加算された再生時間を記録する。
func (c *Collector) RecordMinutesCredited(minutes int64) {
	c.minutesCredited.Add(float64(minutes))
}

// RecordProfileProvisioned はプロフィール作成を記録する。
// pathはregister、social_auth、reconcileのいずれか。
func (c *Collector) RecordProfileProvisioned(path string) {
	c.profilesProvisioned.WithLabelValues(path).Inc()
}

// RecordAuthFailure は認証失敗を記録する。
func (c *Collector) RecordAuthFailure(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

// RecordNotificationFailure はメール送信失敗を記録する。
func (c *Collector) RecordNotificationFailure(kind string) {
	c.notifyFailures.WithLabelValues(kind).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordSessionStarted(string)      {}
func (Nop) RecordSessionEnded(string, bool)  {}
func (Nop) RecordMinutesCredited(int64)      {}
func (Nop) RecordProfileProvisioned(string)  {}
func (Nop) RecordAuthFailure(string)         {}
func (Nop) RecordNotificationFailure(string) {}
func (Nop) RecordHTTPStatus(int)             {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
