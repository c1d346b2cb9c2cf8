// Package metrics holds the Prometheus instruments of the alert daemon.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	TicksTotal        *prometheus.CounterVec // labels: result
	TickDuration      prometheus.Histogram
	TriggersTotal     *prometheus.CounterVec // labels: variant
	DispatchTotal     *prometheus.CounterVec // labels: channel, result
	CacheTotal        *prometheus.CounterVec // labels: result=hit|miss|stale|unavailable
	MonitoredSymbols  *prometheus.GaugeVec   // labels: cadence=active|idle
	ActivityDropped   prometheus.Counter
	PersistFailures   *prometheus.CounterVec // labels: operation
	RejectedInstances prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the metrics and registers them with reg.
// A *prometheus.Registry is also used as the gatherer for Handler.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_ticks_total",
			Help: "Monitoring ticks by result",
		}, []string{"result"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alerts_tick_duration_seconds",
			Help:    "Duration of one instrument tick",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		TriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_triggers_total",
			Help: "Alert triggers by variant",
		}, []string{"variant"}),
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_dispatch_total",
			Help: "Notification attempts by channel and result",
		}, []string{"channel", "result"}),
		CacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_marketdata_cache_total",
			Help: "Market data cache lookups by result",
		}, []string{"result"}),
		MonitoredSymbols: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "alerts_monitored_instruments",
			Help: "Instruments with a running timer by cadence",
		}, []string{"cadence"}),
		ActivityDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alerts_activity_events_dropped_total",
			Help: "Activity events dropped because the queue was full",
		}),
		PersistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_persist_failures_total",
			Help: "Alert writes that failed after all retries",
		}, []string{"operation"}),
		RejectedInstances: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alerts_instruments_over_cap_total",
			Help: "Instruments left unmonitored because of max_instruments",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.TickDuration,
		m.TriggersTotal,
		m.DispatchTotal,
		m.CacheTotal,
		m.MonitoredSymbols,
		m.ActivityDropped,
		m.PersistFailures,
		m.RejectedInstances,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// NewWithRegistry creates a registry with Go and process collectors and
// metrics registered on it.
func NewWithRegistry() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return New(reg)
}

// Handler serves the registry the metrics were registered with.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveTick records one tick result and its duration.
func (m *Metrics) ObserveTick(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(result).Inc()
	m.TickDuration.Observe(d.Seconds())
}

// Trigger records a trigger of variant.
func (m *Metrics) Trigger(variant string) {
	if m == nil {
		return
	}
	m.TriggersTotal.WithLabelValues(variant).Inc()
}

// Dispatch records one notification attempt.
func (m *Metrics) Dispatch(channel string, success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.DispatchTotal.WithLabelValues(channel, result).Inc()
}

// Cache records a cache lookup result.
func (m *Metrics) Cache(result string) {
	if m == nil {
		return
	}
	m.CacheTotal.WithLabelValues(result).Inc()
}

// SetMonitored sets the number of monitored instruments per cadence.
func (m *Metrics) SetMonitored(active, idle int) {
	if m == nil {
		return
	}
	m.MonitoredSymbols.WithLabelValues("active").Set(float64(active))
	m.MonitoredSymbols.WithLabelValues("idle").Set(float64(idle))
}

// ActivityDrop records a dropped activity event.
func (m *Metrics) ActivityDrop() {
	if m == nil {
		return
	}
	m.ActivityDropped.Inc()
}

// PersistFailure records a write that exhausted its retries.
func (m *Metrics) PersistFailure(operation string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(operation).Inc()
}

// OverCap records an instrument left unmonitored by the cap.
func (m *Metrics) OverCap() {
	if m == nil {
		return
	}
	m.RejectedInstances.Inc()
}
