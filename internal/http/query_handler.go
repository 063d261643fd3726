package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"querydesk/internal/connections"
	"querydesk/internal/report"
	"querydesk/internal/webhook"
)

// querySubmitter forwards a query and its context to the webhook.
type querySubmitter interface {
	Submit(ctx context.Context, query string, qc connections.QueryContext) (webhook.Response, error)
}

// limiter decides whether a user may submit now.
type limiter interface {
	Allow(key string) bool
}

// inFlightGuard allows one outstanding submission per user.
type inFlightGuard interface {
	Acquire(key string) (release func(), ok bool)
}

// QueryHandler serves POST /api/query.
type QueryHandler struct {
	aggregator *connections.Aggregator
	submitter  querySubmitter
	limiter    limiter
	inFlight   inFlightGuard
	logger     *slog.Logger
}

// NewQueryHandler creates a handler. limiter may be nil to disable rate limiting.
func NewQueryHandler(aggregator *connections.Aggregator, submitter querySubmitter, limiter limiter, inFlight inFlightGuard, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{
		aggregator: aggregator,
		submitter:  submitter,
		limiter:    limiter,
		inFlight:   inFlight,
		logger:     logger,
	}
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Message *string             `json:"message"`
	Shape   webhook.Shape       `json:"shape"`
	Chart   []report.ChartPoint `json:"chart"`
}

// Submit validates the query, builds the user's context and forwards both to
// the webhook. Only one submission per user runs at a time.
func (h *QueryHandler) Submit(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	key := user.ID.String()

	var payload queryRequest
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}
	if strings.TrimSpace(payload.Query) == "" {
		writeError(w, http.StatusBadRequest, webhook.ErrEmptyQuery.Error())
		return
	}

	if h.limiter != nil && !h.limiter.Allow(key) {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "too many queries; try again shortly")
		return
	}

	if h.inFlight != nil {
		release, ok := h.inFlight.Acquire(key)
		if !ok {
			writeError(w, http.StatusConflict, "a query is already in progress")
			return
		}
		defer release()
	}

	qc, err := h.aggregator.Build(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("build query context", "error", err)
		writeError(w, http.StatusInternalServerError, "unexpected error")
		return
	}

	resp, err := h.submitter.Submit(r.Context(), payload.Query, qc)
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrEmptyQuery), errors.Is(err, webhook.ErrNoSource):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, webhook.ErrSubmissionFailed):
			h.logger.Warn("query submission failed", "user_id", user.ID, "error", err)
			writeError(w, http.StatusBadGateway, webhook.ErrSubmissionFailed.Error())
		default:
			h.logger.Error("query submission error", "user_id", user.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "unexpected error")
		}
		return
	}

	chart := resp.Chart()
	if wantsCSV(r) {
		writeChartCSV(w, chart, "query.csv", h.logger)
		return
	}

	h.logger.Info("query answered", "user_id", user.ID, "shape", resp.Shape, "rows", len(resp.Rows))
	writeJSON(w, http.StatusOK, queryResponse{Message: resp.Message, Shape: resp.Shape, Chart: chart})
}

func wantsCSV(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/csv")
}

func writeChartCSV(w http.ResponseWriter, points []report.ChartPoint, filename string, logger *slog.Logger) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	if err := report.WriteChartCSV(w, points); err != nil {
		logger.Error("write chart csv", "error", err)
	}
}
