// Package metrics exposes the Prometheus collectors for the API.
package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runaway_runs_recorded_total",
		Help: "Completed runs persisted together with their statistics update",
	})

	StatsConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runaway_stats_conflicts_total",
		Help: "Statistics compare-and-swap attempts that lost a race",
	})

	StatsRebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runaway_stats_rebuilds_total",
		Help: "Statistics rebuilds by outcome",
	}, []string{"outcome"})

	StatsRebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "runaway_stats_rebuild_duration_seconds",
		Help:    "Duration of statistics rebuilds",
		Buckets: prometheus.DefBuckets,
	})

	StoreBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "runaway_store_breaker_state",
		Help: "Store circuit breaker state (0 closed, 1 half-open, 2 open)",
	})

	LiveBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runaway_live_broadcasts_total",
		Help: "Live session points fanned out to subscribers",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "runaway_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Middleware records request latency keyed by the matched route pattern.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		route := c.Route().Path
		HTTPRequestDuration.WithLabelValues(c.Method(), route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler serves the default registry.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
