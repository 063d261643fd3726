package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/api/google-sheets/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/google-sheets/files/{id}", "202"))

	req := httptest.NewRequest(http.MethodGet, "/api/google-sheets/files/abc", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/google-sheets/files/{id}", "202"))
	if after != before+1 {
		t.Fatalf("expected counter to increase by one, got %v -> %v", before, after)
	}
}

func TestObserveWebhookCountsOutcome(t *testing.T) {
	before := testutil.ToFloat64(webhookSubmissions.WithLabelValues("ok"))
	ObserveWebhook("ok", time.Now())
	if after := testutil.ToFloat64(webhookSubmissions.WithLabelValues("ok")); after != before+1 {
		t.Fatalf("expected ok outcome to be counted, got %v -> %v", before, after)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	CountWebhookShape("message")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "querydesk_webhook_response_shapes_total") {
		t.Fatal("expected webhook shape counter in exposition")
	}
}
