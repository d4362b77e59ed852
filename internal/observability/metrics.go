package observability

import (
	"net/http"
	"strconv"
	"time"

	"callbridge/internal/push"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "callbridge"

// Metrics groups all Prometheus instruments used by the service. Each
// instance owns its registry so tests can build as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	CallTransitions     *prometheus.CounterVec
	TransitionConflicts *prometheus.CounterVec
	PushMessages        *prometheus.CounterVec
	WSSubscribers       prometheus.Gauge
	HTTPRequests        *prometheus.CounterVec
	HTTPLatency         *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		CallTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_transitions_total",
			Help:      "Applied call session transitions by resulting status.",
		}, []string{"to"}),
		TransitionConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transition_conflicts_total",
			Help:      "Transitions refused because the session changed concurrently.",
		}, []string{"event"}),
		PushMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_messages_total",
			Help:      "Push messages by kind and outcome.",
		}, []string{"kind", "outcome"}),
		WSSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_subscribers",
			Help:      "Open call event websocket connections.",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
	}
}

// CallTransition implements calls.Observer.
func (m *Metrics) CallTransition(to string) {
	m.CallTransitions.WithLabelValues(to).Inc()
}

// TransitionConflict implements calls.Observer.
func (m *Metrics) TransitionConflict(event string) {
	m.TransitionConflicts.WithLabelValues(event).Inc()
}

// RecordPush implements push.Recorder.
func (m *Metrics) RecordPush(kind push.Kind, ok bool) {
	outcome := "delivered"
	if !ok {
		outcome = "failed"
	}
	m.PushMessages.WithLabelValues(string(kind), outcome).Inc()
}

// TrackRevocations exposes the size of an in-process revocation set.
func (m *Metrics) TrackRevocations(size func() int) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "revoked_tokens",
		Help:      "Revoked access tokens still retained in memory.",
	}, func() float64 { return float64(size()) })
}

// Middleware records one counter and one latency sample per request, labelled
// by the matched route template rather than the raw path.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPLatency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
