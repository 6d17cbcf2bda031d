// Package metrics exposes Prometheus collectors for snapshots and HTTP.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"neuron/internal/domain"
)

// Metrics owns a private registry so independent instances never collide.
type Metrics struct {
	Registry *prometheus.Registry

	snapshots       *prometheus.CounterVec
	percentComplete *prometheus.GaugeVec
	httpDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "neuron_snapshots_total",
			Help: "Snapshot writes by result.",
		}, []string{"result"}),
		percentComplete: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "neuron_snapshot_percent_complete",
			Help: "Percent complete of the most recent snapshot per program.",
		}, []string{"program_id"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "neuron_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}
	reg.MustRegister(
		m.snapshots,
		m.percentComplete,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordSnapshot counts a snapshot write and tracks the program's progress
// on success.
func (m *Metrics) RecordSnapshot(s domain.Snapshot, err error) {
	if err != nil {
		m.snapshots.WithLabelValues("error").Inc()
		return
	}
	m.snapshots.WithLabelValues("ok").Inc()
	m.percentComplete.WithLabelValues(s.ProgramID).Set(s.PercentComplete)
}

// ObserveRequest records one request's latency.
func (m *Metrics) ObserveRequest(method string, status int, took time.Duration) {
	m.httpDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Middleware times every request passing through next.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.ObserveRequest(r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
