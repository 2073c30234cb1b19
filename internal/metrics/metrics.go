// Package metrics holds the Prometheus collectors shared by the modules.
// Every method is safe to call on a nil *Metrics, so modules built without
// a registry (tests, the job process) need no special casing.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServiceName is the name the metrics are registered under.
const ServiceName = "metrics"

const namespace = "strmsync"

// Metrics is the set of collectors exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	jobStarts    *prometheus.CounterVec
	jobStops     *prometheus.CounterVec
	jobExits     *prometheus.CounterVec
	jobsRunning  prometheus.Gauge
	logins       *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		jobStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_starts_total",
			Help:      "Sync job processes started, by trigger.",
		}, []string{"trigger"}),
		jobStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_stops_total",
			Help:      "Stop requests for running jobs, by outcome.",
		}, []string{"outcome"}),
		jobExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_exits_total",
			Help:      "Observed job process exits, by resulting status.",
		}, []string{"status"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Job processes currently tracked by the supervisor.",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts, by outcome.",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobStarts, m.jobStops, m.jobExits, m.jobsRunning, m.logins, m.httpRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// JobStarted counts a started job process.
func (m *Metrics) JobStarted(trigger string) {
	if m == nil {
		return
	}
	m.jobStarts.WithLabelValues(trigger).Inc()
	m.jobsRunning.Inc()
}

// JobStopped counts a stop request with the status it left behind.
func (m *Metrics) JobStopped(outcome string) {
	if m == nil {
		return
	}
	m.jobStops.WithLabelValues(outcome).Inc()
}

// JobExited counts an observed process exit.
func (m *Metrics) JobExited(status string) {
	if m == nil {
		return
	}
	m.jobExits.WithLabelValues(status).Inc()
	m.jobsRunning.Dec()
}

// Login counts a login attempt.
func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

// HTTPRequest counts a served request.
func (m *Metrics) HTTPRequest(route, method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}
