package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"querydesk/internal/auth"
	"querydesk/internal/connections"
	"querydesk/internal/http/ratelimit"
	"querydesk/internal/webhook"
)

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

type queryFixture struct {
	handler *QueryHandler
	svc     *connections.Service
	user    *auth.User
	calls   *atomic.Int32
	bodies  chan map[string]json.RawMessage
}

// newQueryFixture wires the handler to a real submitter pointed at an
// httptest webhook answering with status and body.
func newQueryFixture(t *testing.T, status int, body string, limiter limiter, inFlight inFlightGuard) *queryFixture {
	t.Helper()

	calls := &atomic.Int32{}
	bodies := make(chan map[string]json.RawMessage, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var payload map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode webhook payload: %v", err)
		}
		bodies <- payload
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)

	svc := newConnectionService()
	aggregator := connections.NewAggregator(svc, discardLogger())
	submitter := webhook.NewSubmitter(server.URL, 2*time.Second, discardLogger())

	return &queryFixture{
		handler: NewQueryHandler(aggregator, submitter, limiter, inFlight, discardLogger()),
		svc:     svc,
		user:    &auth.User{ID: uuid.New(), Email: "ana@example.com"},
		calls:   calls,
		bodies:  bodies,
	}
}

func (f *queryFixture) connectSheet(t *testing.T) {
	t.Helper()
	if _, err := f.svc.AddSheetFile(context.Background(), f.user.ID, connections.SheetFile{ID: "sheet-1", Name: "Budget"}); err != nil {
		t.Fatalf("add sheet: %v", err)
	}
}

func (f *queryFixture) submit(t *testing.T, body string, accept string) *httptest.ResponseRecorder {
	t.Helper()
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body)), f.user)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rec := httptest.NewRecorder()
	f.handler.Submit(rec, req)
	return rec
}

func TestQuerySubmitReturnsNormalisedMessage(t *testing.T) {
	f := newQueryFixture(t, http.StatusOK, `[{"output":{"message":"Sessions rose 12%"}}]`, nil, ratelimit.NewInFlight())
	f.connectSheet(t)

	rec := f.submit(t, `{"query":"how did sessions change?"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Message *string `json:"message"`
		Shape   string  `json:"shape"`
		Chart   []any   `json:"chart"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Message == nil || *resp.Message != "Sessions rose 12%" {
		t.Fatalf("unexpected message %v", resp.Message)
	}
	if resp.Shape != string(webhook.ShapeArrayOutput) {
		t.Fatalf("unexpected shape %q", resp.Shape)
	}
	if resp.Chart == nil || len(resp.Chart) != 0 {
		t.Fatalf("expected empty chart, got %v", resp.Chart)
	}

	payload := <-f.bodies
	if string(payload["query"]) != `"how did sessions change?"` {
		t.Fatalf("unexpected query sent %s", payload["query"])
	}
	if string(payload["googleAnalytics"]) != "null" || string(payload["googleAds"]) != "null" {
		t.Fatalf("expected unconnected slots to be null, got %v", payload)
	}
	if !strings.Contains(string(payload["googleSheets"]), "sheet-1") {
		t.Fatalf("expected sheets slot, got %s", payload["googleSheets"])
	}
}

func TestQuerySubmitRejectsBlankQuery(t *testing.T) {
	f := newQueryFixture(t, http.StatusOK, `"ok"`, nil, nil)
	f.connectSheet(t)

	for _, body := range []string{`{"query":""}`, `{"query":"   "}`, `{}`} {
		rec := f.submit(t, body, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", body, rec.Code)
		}
	}
	if f.calls.Load() != 0 {
		t.Fatalf("webhook must not be called, got %d calls", f.calls.Load())
	}
}

func TestQuerySubmitRequiresConnectedSource(t *testing.T) {
	f := newQueryFixture(t, http.StatusOK, `"ok"`, nil, nil)

	rec := f.submit(t, `{"query":"anything"}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if body := decodeJSONMap(t, rec); body["error"] != webhook.ErrNoSource.Error() {
		t.Fatalf("unexpected error %v", body["error"])
	}
	if f.calls.Load() != 0 {
		t.Fatal("webhook must not be called without a source")
	}
}

func TestQuerySubmitMapsWebhookFailure(t *testing.T) {
	f := newQueryFixture(t, http.StatusInternalServerError, `{"error":"workflow crashed"}`, nil, nil)
	f.connectSheet(t)

	rec := f.submit(t, `{"query":"anything"}`, "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "workflow crashed") {
		t.Fatal("upstream body must not be echoed")
	}
}

func TestQuerySubmitRateLimited(t *testing.T) {
	f := newQueryFixture(t, http.StatusOK, `"ok"`, denyAll{}, nil)
	f.connectSheet(t)

	rec := f.submit(t, `{"query":"anything"}`, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if f.calls.Load() != 0 {
		t.Fatal("webhook must not be called when limited")
	}
}

func TestQuerySubmitRejectsConcurrentSubmission(t *testing.T) {
	inFlight := ratelimit.NewInFlight()
	f := newQueryFixture(t, http.StatusOK, `"ok"`, nil, inFlight)
	f.connectSheet(t)

	release, ok := inFlight.Acquire(f.user.ID.String())
	if !ok {
		t.Fatal("expected to acquire slot")
	}

	rec := f.submit(t, `{"query":"anything"}`, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409 while a query is running, got %d", rec.Code)
	}

	release()
	rec = f.submit(t, `{"query":"anything"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 after release, got %d", rec.Code)
	}
	if f.calls.Load() != 1 {
		t.Fatalf("expected exactly one webhook call, got %d", f.calls.Load())
	}
}

func TestQuerySubmitReleasesSlotAfterFailure(t *testing.T) {
	inFlight := ratelimit.NewInFlight()
	f := newQueryFixture(t, http.StatusBadGateway, ``, nil, inFlight)
	f.connectSheet(t)

	if rec := f.submit(t, `{"query":"anything"}`, ""); rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rec.Code)
	}
	if _, ok := inFlight.Acquire(f.user.ID.String()); !ok {
		t.Fatal("slot must be released after a failed submission")
	}
}

func TestQuerySubmitAsCSV(t *testing.T) {
	body := `{"message":"Here you go","rows":[
		{"dimensionValues":[{"value":"20240101"}],"metricValues":[{"value":"42"}]},
		{"dimensionValues":[{"value":"20240102"}],"metricValues":[{"value":"7"}]}
	]}`
	f := newQueryFixture(t, http.StatusOK, body, nil, nil)
	f.connectSheet(t)

	rec := f.submit(t, `{"query":"sessions by day"}`, "text/csv")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	want := "date,sessions\n20240101,42\n20240102,7\n"
	if rec.Body.String() != want {
		t.Fatalf("unexpected csv %q", rec.Body.String())
	}
}
