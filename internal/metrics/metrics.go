// Package metrics exposes console health as Prometheus metrics
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mosiko1234/cfa/console/internal/model"
)

const namespace = "cfa_console"

// Metrics holds the console's collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	pollTotal        *prometheus.CounterVec
	pollDuration     *prometheus.HistogramVec
	serviceOnline    *prometheus.GaugeVec
	historyLen       prometheus.Gauge
	weightsPushTotal *prometheus.CounterVec
	enrollmentTotal  *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates a metrics set registered on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		pollTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Polling ticks by loop and outcome",
		}, []string{"loop", "outcome"}),
		pollDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_tick_duration_seconds",
			Help:      "Duration of polling ticks",
			Buckets:   prometheus.DefBuckets,
		}, []string{"loop"}),
		serviceOnline: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_online",
			Help:      "1 when the last poll of the service succeeded",
		}, []string{"service"}),
		historyLen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_samples",
			Help:      "Samples held in the rolling history",
		}),
		weightsPushTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weights_push_total",
			Help:      "Adaptive weight pushes by outcome",
		}, []string{"outcome"}),
		enrollmentTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrollment_attempts_total",
			Help:      "Enrollment attempts by outcome",
		}, []string{"outcome"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Dashboard HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Dashboard HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// PrimaryTick records one primary loop tick
func (m *Metrics) PrimaryTick(ok bool, elapsed time.Duration) {
	m.pollTotal.WithLabelValues("primary", outcome(ok)).Inc()
	m.pollDuration.WithLabelValues("primary").Observe(elapsed.Seconds())
}

// SecondaryTick records one secondary loop tick
func (m *Metrics) SecondaryTick(ok bool, elapsed time.Duration) {
	m.pollTotal.WithLabelValues("secondary", outcome(ok)).Inc()
	m.pollDuration.WithLabelValues("secondary").Observe(elapsed.Seconds())
}

// WeightsPush records a weight push-back
func (m *Metrics) WeightsPush(err error) {
	m.weightsPushTotal.WithLabelValues(outcome(err == nil)).Inc()
}

// HistoryLen records the history length
func (m *Metrics) HistoryLen(n int) {
	m.historyLen.Set(float64(n))
}

// Online records the service flags
func (m *Metrics) Online(flags model.OnlineFlags) {
	m.serviceOnline.WithLabelValues("status").Set(boolGauge(flags.StatusService))
	m.serviceOnline.WithLabelValues("ai").Set(boolGauge(flags.AIService))
}

// EnrollmentAttempt records an enrollment outcome
func (m *Metrics) EnrollmentAttempt(outcome string) {
	m.enrollmentTotal.WithLabelValues(outcome).Inc()
}

// HTTPRequest records one dashboard request
func (m *Metrics) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
