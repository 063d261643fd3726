// Package webhook forwards user queries to the external automation webhook.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"querydesk/internal/connections"
	"querydesk/internal/metrics"
)

var (
	// ErrEmptyQuery is returned when the query text is blank.
	ErrEmptyQuery = errors.New("query text is required")
	// ErrNoSource is returned when no integration is connected.
	ErrNoSource = errors.New("connect at least one data source before asking a question")
	// ErrSubmissionFailed covers network failures and non-success statuses.
	ErrSubmissionFailed = errors.New("query submission failed")
)

const maxResponseBytes = 4 << 20

// Submitter posts queries to a single webhook URL.
type Submitter struct {
	client *http.Client
	url    string
	logger *slog.Logger
}

// Option configures the Submitter during construction.
type Option func(*Submitter)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Submitter) {
		if client != nil {
			s.client = client
		}
	}
}

// NewSubmitter constructs a Submitter. A zero timeout falls back to 60 seconds.
func NewSubmitter(webhookURL string, timeout time.Duration, logger *slog.Logger, opts ...Option) *Submitter {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Submitter{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimSpace(webhookURL),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type payload struct {
	Query string `json:"query"`
	connections.QueryContext
}

// Submit validates the query, makes one POST to the webhook and normalises
// the answer. Validation failures never touch the network. There is no retry.
func (s *Submitter) Submit(ctx context.Context, query string, qc connections.QueryContext) (Response, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		metrics.ObserveWebhook("rejected", start)
		return Response{}, ErrEmptyQuery
	}
	if !qc.Connected() {
		metrics.ObserveWebhook("rejected", start)
		return Response{}, ErrNoSource
	}

	body, err := json.Marshal(payload{Query: query, QueryContext: qc})
	if err != nil {
		return Response{}, fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("%w: build request: %v", ErrSubmissionFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.ObserveWebhook("failed", start)
		return Response{}, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.ObserveWebhook("failed", start)
		return Response{}, fmt.Errorf("%w: read response: %v", ErrSubmissionFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ObserveWebhook("failed", start)
		return Response{}, fmt.Errorf("%w: webhook returned status %d", ErrSubmissionFailed, resp.StatusCode)
	}

	metrics.ObserveWebhook("ok", start)
	normalized := Normalize(raw)
	metrics.CountWebhookShape(string(normalized.Shape))
	if normalized.Shape == ShapeUnrecognized {
		s.logger.Warn("webhook response not recognised", "bytes", len(raw))
	}
	return normalized, nil
}
