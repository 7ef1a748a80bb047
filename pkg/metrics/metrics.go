package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/amoylab/hostlink/internal/common/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry with the gateway collectors
type Metrics struct {
	registry *prometheus.Registry

	httpReqCnt *prometheus.CounterVec
	httpDur    *prometheus.HistogramVec

	connections   *prometheus.GaugeVec
	rpcCalls      *prometheus.CounterVec
	rpcDur        *prometheus.HistogramVec
	txTransitions *prometheus.CounterVec
	rateLimited   *prometheus.CounterVec
	scheduleRuns  *prometheus.CounterVec
	taskFailures  *prometheus.CounterVec
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry:      r,
		httpReqCnt:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"}),
		httpDur:       prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: buckets}, []string{"method", "route", "status"}),
		connections:   prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "connections"}, []string{"kind"}),
		rpcCalls:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "rpc_calls_total"}, []string{"kind", "method", "outcome"}),
		rpcDur:        prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "rpc_call_duration_seconds", Buckets: buckets}, []string{"kind", "method"}),
		txTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "transaction_transitions_total"}, []string{"status"}),
		rateLimited:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "rate_limit_violations_total"}, []string{"kind", "reason"}),
		scheduleRuns:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "schedule_runs_total"}, []string{"status"}),
		taskFailures:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "background_task_failures_total"}, []string{"task"}),
	}
	r.MustRegister(m.httpReqCnt, m.httpDur, m.connections, m.rpcCalls, m.rpcDur,
		m.txTransitions, m.rateLimited, m.scheduleRuns, m.taskFailures)
	return m
}

// ConnOpened and ConnClosed track live sockets per peer kind
func (m *Metrics) ConnOpened(kind string) {
	if m != nil {
		m.connections.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ConnClosed(kind string) {
	if m != nil {
		m.connections.WithLabelValues(kind).Dec()
	}
}

// RPCDone records one handled inbound call
func (m *Metrics) RPCDone(kind, method string, since time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.rpcCalls.WithLabelValues(kind, method, outcome).Inc()
	m.rpcDur.WithLabelValues(kind, method).Observe(time.Since(since).Seconds())
}

func (m *Metrics) TransactionTransition(status string) {
	if m != nil {
		m.txTransitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) RateLimited(kind, reason string) {
	if m != nil {
		m.rateLimited.WithLabelValues(kind, reason).Inc()
	}
}

func (m *Metrics) ScheduleRun(status string) {
	if m != nil {
		m.scheduleRuns.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) TaskFailed(task string) {
	if m != nil {
		m.taskFailures.WithLabelValues(task).Inc()
	}
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
