package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	unmatched   = "unmatched"
	metricsPath = "/metrics"
)

// Batch submission outcomes.
const (
	submitAccepted    = "accepted"
	submitRejected    = "rejected"
	submitUnavailable = "unavailable"
	submitError       = "error"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foundry_http_requests_total",
			Help: "Total number of API requests by route.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foundry_http_request_duration_seconds",
			Help:    "API request duration in seconds by route. Event streams are excluded.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	batchSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foundry_batch_submissions_total",
			Help: "Batch submissions received over the API by outcome.",
		},
		[]string{"result"},
	)

	eventStreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foundry_event_streams_active",
			Help: "Number of open batch event streams.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(batchSubmissions)
	prometheus.MustRegister(eventStreamsActive)

	for _, result := range []string{submitAccepted, submitRejected, submitUnavailable, submitError} {
		batchSubmissions.WithLabelValues(result)
	}
}

// metricsMiddleware records request count and duration per chi route
// pattern. Scrapes of the metrics endpoint are not counted, and SSE streams
// only count, since their duration is the client's connection time.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == metricsPath {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		if ww.Header().Get("Content-Type") != "text/event-stream" {
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		}
	})
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
