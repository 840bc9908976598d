// Package metrics holds the prometheus collectors shared by the realtime
// core and the HTTP layer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pairpad"

var (
	LiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_rooms",
		Help:      "Rooms currently held in memory",
	})

	Sessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Joined websocket sessions",
	})

	Edits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "edits_total",
		Help:      "Edits accepted and fanned out",
	})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "edits_rate_limited_total",
		Help:      "Edits dropped by the per-session rate limiter",
	})

	Rejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_rejected_total",
		Help:      "Connections closed because the room does not exist",
	})

	DeliveriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_dropped_total",
		Help:      "Outbound messages refused by a full or closed session queue",
	})

	PersistWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persist_writes_total",
		Help:      "Room contents written to the store",
	})

	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persist_failures_total",
		Help:      "Room content writes that failed",
	})

	PersistPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "persist_pending",
		Help:      "Rooms with content waiting to be written",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Middleware records request counts and latency labelled by the chi route
// pattern, so /rooms/{id} stays one series.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{
			"method": r.Method,
			"route":  route,
			"status": strconv.Itoa(status),
		}
		httpRequests.With(labels).Inc()
		httpLatency.With(labels).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
