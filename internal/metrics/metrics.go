package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querydesk_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "querydesk_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	storeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "querydesk_store_latency_seconds",
		Help:    "Histogram of storage operation latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "route"})

	webhookSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querydesk_webhook_submissions_total",
		Help: "Query submissions by outcome.",
	}, []string{"outcome"})

	webhookLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "querydesk_webhook_latency_seconds",
		Help:    "Round-trip latency of webhook submissions.",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
	})

	webhookShapes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querydesk_webhook_response_shapes_total",
		Help: "Webhook responses by recognised shape.",
	}, []string{"shape"})

	googleAPIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querydesk_google_api_errors_total",
		Help: "Failed Google API calls by service.",
	}, []string{"service"})
)

// Middleware records request counts and latency labelled by chi route pattern.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := routeFromContext(r.Context())
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveStoreLatency records how long a storage operation took.
func ObserveStoreLatency(ctx context.Context, operation string, start time.Time) {
	storeLatency.WithLabelValues(operation, routeFromContext(ctx)).Observe(time.Since(start).Seconds())
}

// ObserveWebhook records the outcome and latency of one webhook submission.
func ObserveWebhook(outcome string, start time.Time) {
	webhookSubmissions.WithLabelValues(outcome).Inc()
	webhookLatency.Observe(time.Since(start).Seconds())
}

// CountWebhookShape records which response shape the webhook produced.
func CountWebhookShape(shape string) {
	webhookShapes.WithLabelValues(shape).Inc()
}

// CountGoogleAPIError records a failed call against a Google API.
func CountGoogleAPIError(service string) {
	googleAPIErrors.WithLabelValues(service).Inc()
}

func routeFromContext(ctx context.Context) string {
	if rctx := chi.RouteContext(ctx); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
