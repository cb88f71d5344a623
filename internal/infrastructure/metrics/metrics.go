package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-vision/internal/camera"
	"github.com/nerrad567/gray-logic-vision/internal/events"
)

const namespace = "graylogic_vision"

// Lock wait outcomes.
const (
	outcomeAcquired = "acquired"
	outcomeBusy     = "busy"
)

// Compile-time interface checks.
var (
	_ camera.LockObserver = (*Metrics)(nil)
	_ events.Sink         = (*Metrics)(nil)
)

// captureBuckets span a fast lock hand-off up to a slow multi-second capture.
var captureBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Metrics holds every collector the service exports.
type Metrics struct {
	registry *prometheus.Registry

	lockWait        *prometheus.HistogramVec
	lockHeld        prometheus.Histogram
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	events          *prometheus.CounterVec
}

// New creates a Metrics with Go runtime and process collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hardware_lock",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for the hardware lock, by outcome.",
			Buckets:   captureBuckets,
		}, []string{"outcome"}),
		lockHeld: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hardware_lock",
			Name:      "held_seconds",
			Help:      "Time the hardware lock was held per critical section.",
			Buckets:   captureBuckets,
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   captureBuckets,
		}, []string{"method", "route"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Published events by type.",
		}, []string{"type"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.lockWait,
		m.lockHeld,
		m.requests,
		m.requestDuration,
		m.events,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// LockWaited records one hardware lock acquisition attempt.
func (m *Metrics) LockWaited(wait time.Duration, acquired bool) {
	outcome := outcomeAcquired
	if !acquired {
		outcome = outcomeBusy
	}
	m.lockWait.WithLabelValues(outcome).Observe(wait.Seconds())
}

// LockHeld records how long one critical section held the lock.
func (m *Metrics) LockHeld(held time.Duration) {
	m.lockHeld.Observe(held.Seconds())
}

// ObserveRequest records one served HTTP request. route is the matched
// route pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Publish counts e by type.
func (m *Metrics) Publish(_ context.Context, e events.Event) error {
	m.events.WithLabelValues(string(e.Type)).Inc()
	return nil
}

// RegisterSessions reports count() as the session gauge for kind on
// every scrape.
func (m *Metrics) RegisterSessions(kind string, count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "active_sessions",
		Help:        "Sessions or handles currently held, by kind.",
		ConstLabels: prometheus.Labels{"kind": kind},
	}, func() float64 { return float64(count()) }))
}
