package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"querydesk/internal/connections"
	"querydesk/internal/google"
	"querydesk/internal/report"
)

const reportDays = 30

// googleAPI lists the Google resources a user can connect.
type googleAPI interface {
	ListAccounts(ctx context.Context, accessToken string) ([]google.Account, error)
	ListProperties(ctx context.Context, accessToken, accountID string) ([]connections.AnalyticsProperty, error)
	SessionsByDate(ctx context.Context, accessToken, propertyID string, days int) ([]report.Row, error)
	ListSpreadsheets(ctx context.Context, accessToken string) ([]connections.SheetFile, error)
	ListAdsCustomers(ctx context.Context, accessToken string) ([]google.AdsCustomer, error)
}

// ResourceHandler exposes account, property, file and customer selection endpoints.
type ResourceHandler struct {
	api         googleAPI
	connections *connections.Service
	aggregator  *connections.Aggregator
	logger      *slog.Logger
}

// NewResourceHandler creates a handler.
func NewResourceHandler(api googleAPI, svc *connections.Service, aggregator *connections.Aggregator, logger *slog.Logger) *ResourceHandler {
	return &ResourceHandler{api: api, connections: svc, aggregator: aggregator, logger: logger}
}

// analyticsToken goes through the aggregator so expired tokens are refreshed
// under the refresh expiry policy.
func (h *ResourceHandler) analyticsToken(r *http.Request, userID uuid.UUID) (string, error) {
	if h.aggregator != nil {
		return h.aggregator.AnalyticsToken(r.Context(), userID)
	}
	return h.connections.AccessToken(r.Context(), userID, connections.ProviderAnalytics)
}

// AnalyticsAccounts handles GET /api/analytics/accounts.
func (h *ResourceHandler) AnalyticsAccounts(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	token, err := h.analyticsToken(r, user.ID)
	if err != nil {
		h.writeServiceError(w, err, "list analytics accounts")
		return
	}

	accounts, err := h.api.ListAccounts(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, err, "list analytics accounts")
		return
	}

	selection, err := h.connections.AnalyticsSelection(r.Context(), user.ID)
	if err != nil {
		h.writeServiceError(w, err, "read analytics selection")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts, "selected": selection})
}

// AnalyticsProperties handles GET /api/analytics/properties?accountId=.
// The fetched list is cached only while accountId is still the selected account.
func (h *ResourceHandler) AnalyticsProperties(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	accountID := strings.TrimSpace(r.URL.Query().Get("accountId"))
	if accountID == "" {
		selection, err := h.connections.AnalyticsSelection(r.Context(), user.ID)
		if err != nil {
			h.writeServiceError(w, err, "read analytics selection")
			return
		}
		accountID = selection.AccountID
	}
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "accountId is required")
		return
	}

	token, err := h.analyticsToken(r, user.ID)
	if err != nil {
		h.writeServiceError(w, err, "list analytics properties")
		return
	}

	properties, err := h.api.ListProperties(r.Context(), token, accountID)
	if err != nil {
		h.writeServiceError(w, err, "list analytics properties")
		return
	}

	if err := h.connections.CacheAnalyticsProperties(r.Context(), user.ID, accountID, properties); err != nil {
		h.logger.Warn("cache analytics properties failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"accountId": accountID, "properties": properties})
}

type analyticsSelectionRequest struct {
	AccountID  string `json:"accountId"`
	PropertyID string `json:"propertyId"`
}

// AnalyticsSelect handles POST /api/analytics/selection. An account without a
// property switches accounts and clears the previous property list.
func (h *ResourceHandler) AnalyticsSelect(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	var payload analyticsSelectionRequest
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	var err error
	if strings.TrimSpace(payload.PropertyID) == "" {
		err = h.connections.SelectAnalyticsAccount(r.Context(), user.ID, payload.AccountID)
	} else {
		err = h.connections.SelectAnalyticsProperty(r.Context(), user.ID, payload.AccountID, payload.PropertyID)
	}
	if err != nil {
		h.writeServiceError(w, err, "select analytics resource")
		return
	}

	selection, err := h.connections.AnalyticsSelection(r.Context(), user.ID)
	if err != nil {
		h.writeServiceError(w, err, "read analytics selection")
		return
	}
	writeJSON(w, http.StatusOK, selection)
}

// AnalyticsData handles GET /api/analytics/data?propertyId=.
func (h *ResourceHandler) AnalyticsData(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	propertyID := strings.TrimSpace(r.URL.Query().Get("propertyId"))
	if propertyID == "" {
		selection, err := h.connections.AnalyticsSelection(r.Context(), user.ID)
		if err != nil {
			h.writeServiceError(w, err, "read analytics selection")
			return
		}
		propertyID = selection.PropertyID
	}
	if propertyID == "" {
		writeError(w, http.StatusBadRequest, "propertyId is required")
		return
	}

	token, err := h.analyticsToken(r, user.ID)
	if err != nil {
		h.writeServiceError(w, err, "run analytics report")
		return
	}

	rows, err := h.api.SessionsByDate(r.Context(), token, propertyID, reportDays)
	if err != nil {
		h.writeServiceError(w, err, "run analytics report")
		return
	}

	chart := report.ChartData(rows)
	if wantsCSV(r) {
		writeChartCSV(w, chart, "sessions.csv", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows, "chart": chart})
}

// SheetFiles handles GET /api/google-sheets/files.
func (h *ResourceHandler) SheetFiles(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	token, err := h.connections.AccessToken(r.Context(), user.ID, connections.ProviderSheets)
	if err != nil {
		h.writeServiceError(w, err, "list spreadsheets")
		return
	}

	files, err := h.api.ListSpreadsheets(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, err, "list spreadsheets")
		return
	}

	connected, err := h.connections.ListSheetFiles(r.Context(), user.ID)
	if err != nil {
		h.writeServiceError(w, err, "list connected spreadsheets")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files, "connected": connected})
}

// AddSheetFile handles POST /api/google-sheets/files. Adding a file that is
// already connected is a no-op answered with 200.
func (h *ResourceHandler) AddSheetFile(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	var file connections.SheetFile
	if err := decodeJSONBody(w, r, &file); err != nil {
		writeJSONError(w, err)
		return
	}

	added, err := h.connections.AddSheetFile(r.Context(), user.ID, file)
	if err != nil {
		h.writeServiceError(w, err, "add spreadsheet")
		return
	}

	files, err := h.connections.ListSheetFiles(r.Context(), user.ID)
	if err != nil {
		h.writeServiceError(w, err, "list connected spreadsheets")
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"files": files})
}

// RemoveSheetFile handles DELETE /api/google-sheets/files/{id}.
func (h *ResourceHandler) RemoveSheetFile(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	removed, err := h.connections.RemoveSheetFile(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err, "remove spreadsheet")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "spreadsheet is not connected")
		return
	}

	files, err := h.connections.ListSheetFiles(r.Context(), user.ID)
	if err != nil {
		h.writeServiceError(w, err, "list connected spreadsheets")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// AdsAccounts handles GET /api/google-ads/accounts?token=. An explicit token
// takes precedence over the stored Ads credential.
func (h *ResourceHandler) AdsAccounts(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		stored, err := h.connections.AccessToken(r.Context(), user.ID, connections.ProviderAds)
		if err != nil {
			h.writeServiceError(w, err, "list ads customers")
			return
		}
		token = stored
	}

	customers, err := h.api.ListAdsCustomers(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, err, "list ads customers")
		return
	}

	selection, err := h.connections.AdsSelection(r.Context(), user.ID)
	if err != nil {
		h.writeServiceError(w, err, "read ads selection")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers, "selected": selection})
}

// AdsSelect handles POST /api/google-ads/selection.
func (h *ResourceHandler) AdsSelect(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	var payload connections.AdsSelection
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	if err := h.connections.SelectAdsCustomer(r.Context(), user.ID, payload.CustomerID); err != nil {
		h.writeServiceError(w, err, "select ads customer")
		return
	}

	selection, err := h.connections.AdsSelection(r.Context(), user.ID)
	if err != nil {
		h.writeServiceError(w, err, "read ads selection")
		return
	}
	writeJSON(w, http.StatusOK, selection)
}

type connectionStatus struct {
	GoogleAnalytics *connections.AnalyticsSelection `json:"googleAnalytics"`
	GoogleSheets    []connections.SheetFile         `json:"googleSheets"`
	GoogleAds       *connections.AdsSelection       `json:"googleAds"`
	Connected       []connections.Provider          `json:"connected"`
}

// Connections handles GET /api/connections. It reports the same view the
// query flow sends, minus the tokens.
func (h *ResourceHandler) Connections(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	qc, err := h.aggregator.Build(r.Context(), user.ID)
	if err != nil {
		h.writeServiceError(w, err, "build connection status")
		return
	}

	status := connectionStatus{Connected: qc.ConnectedProviders()}
	if qc.GoogleAnalytics != nil {
		status.GoogleAnalytics = &connections.AnalyticsSelection{
			AccountID:  qc.GoogleAnalytics.AccountID,
			PropertyID: qc.GoogleAnalytics.PropertyID,
		}
	}
	if qc.GoogleSheets != nil {
		status.GoogleSheets = qc.GoogleSheets.Files
	}
	if qc.GoogleAds != nil {
		status.GoogleAds = &connections.AdsSelection{CustomerID: qc.GoogleAds.CustomerID}
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *ResourceHandler) writeServiceError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, connections.ErrNotConnected):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, connections.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, google.ErrUnauthorized):
		h.logger.Warn(action+": google rejected credential", "error", err)
		writeError(w, http.StatusBadGateway, "google rejected the stored credential; reconnect the integration")
	case errors.Is(err, google.ErrUpstream):
		h.logger.Error(action+" failed", "error", err)
		writeError(w, http.StatusBadGateway, "failed to reach google")
	default:
		h.logger.Error(action+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "unexpected error")
	}
}
