// Package metrics exposes the Prometheus collectors of the server. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	bookings       *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	syncRuns       *prometheus.CounterVec
	syncBlocks     *prometheus.CounterVec
	syncPushes     *prometheus.CounterVec
	outboxRelayed  prometheus.Counter
	outboxFailures prometheus.Counter
}

func New(service string) *Collector {
	labels := prometheus.Labels{"service": service}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests",
			ConstLabels: labels,
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request duration in seconds",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"method", "route"}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "appointment_bookings_total",
			Help:        "Booking attempts by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "appointment_transitions_total",
			Help:        "Appointment lifecycle transitions by event type",
			ConstLabels: labels,
		}, []string{"event_type"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "calendar_sync_runs_total",
			Help:        "Per-provider calendar sync runs by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),
		syncBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "calendar_sync_blocks_total",
			Help:        "Blocks touched by inbound sync by action",
			ConstLabels: labels,
		}, []string{"action"}),
		syncPushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "calendar_sync_pushes_total",
			Help:        "Outbound appointment pushes by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),
		outboxRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "outbox_events_relayed_total",
			Help:        "Outbox events published to the broker",
			ConstLabels: labels,
		}),
		outboxFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "outbox_relay_failures_total",
			Help:        "Failed outbox relay batches",
			ConstLabels: labels,
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.httpRequests,
		c.httpDuration,
		c.bookings,
		c.transitions,
		c.syncRuns,
		c.syncBlocks,
		c.syncPushes,
		c.outboxRelayed,
		c.outboxFailures,
	)
	return c
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Booking outcomes: booked, replayed, conflict, rejected, error.
func (c *Collector) Booking(outcome string) {
	if c == nil {
		return
	}
	c.bookings.WithLabelValues(outcome).Inc()
}

func (c *Collector) Transition(eventType string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(eventType).Inc()
}

func (c *Collector) SyncRun(outcome string) {
	if c == nil {
		return
	}
	c.syncRuns.WithLabelValues(outcome).Inc()
}

func (c *Collector) SyncBlocks(action string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.syncBlocks.WithLabelValues(action).Add(float64(n))
}

func (c *Collector) SyncPush(outcome string) {
	if c == nil {
		return
	}
	c.syncPushes.WithLabelValues(outcome).Inc()
}

func (c *Collector) OutboxRelayed(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.outboxRelayed.Add(float64(n))
}

func (c *Collector) OutboxFailure() {
	if c == nil {
		return
	}
	c.outboxFailures.Inc()
}
