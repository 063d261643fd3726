package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"querydesk/internal/connections"
	"querydesk/internal/metrics"
	"querydesk/internal/report"
)

var (
	// ErrUnauthorized is returned when Google rejects the access token.
	ErrUnauthorized = errors.New("google rejected the access token")
	// ErrUpstream is returned for any other failed Google API call.
	ErrUpstream = errors.New("google api request failed")
)

const (
	defaultAdminURL = "https://analyticsadmin.googleapis.com"
	defaultDataURL  = "https://analyticsdata.googleapis.com"
	defaultDriveURL = "https://www.googleapis.com"
	defaultAdsURL   = "https://googleads.googleapis.com"

	adsAPIVersion   = "v17"
	spreadsheetMIME = "application/vnd.google-apps.spreadsheet"
)

// Account is an Analytics account visible to the user.
type Account struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// AdsCustomer is a Google Ads customer the user can access.
type AdsCustomer struct {
	ID           string `json:"id"`
	ResourceName string `json:"resourceName"`
}

// Client calls the Analytics Admin, Analytics Data, Drive and Ads APIs on
// behalf of a user's access token.
type Client struct {
	http              *http.Client
	adminURL          string
	dataURL           string
	driveURL          string
	adsURL            string
	adsDeveloperToken string
}

// Option configures the Client during construction.
type Option func(*Client)

// WithAdminURL overrides the Analytics Admin API base URL.
func WithAdminURL(baseURL string) Option {
	return func(c *Client) { c.adminURL = strings.TrimRight(baseURL, "/") }
}

// WithDataURL overrides the Analytics Data API base URL.
func WithDataURL(baseURL string) Option {
	return func(c *Client) { c.dataURL = strings.TrimRight(baseURL, "/") }
}

// WithDriveURL overrides the Drive API base URL.
func WithDriveURL(baseURL string) Option {
	return func(c *Client) { c.driveURL = strings.TrimRight(baseURL, "/") }
}

// WithAdsURL overrides the Google Ads API base URL.
func WithAdsURL(baseURL string) Option {
	return func(c *Client) { c.adsURL = strings.TrimRight(baseURL, "/") }
}

// WithAdsDeveloperToken sets the developer-token header sent to the Ads API.
func WithAdsDeveloperToken(token string) Option {
	return func(c *Client) { c.adsDeveloperToken = strings.TrimSpace(token) }
}

// NewClient constructs a Client.
func NewClient(httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	c := &Client{
		http:     httpClient,
		adminURL: defaultAdminURL,
		dataURL:  defaultDataURL,
		driveURL: defaultDriveURL,
		adsURL:   defaultAdsURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type accountSummariesResponse struct {
	AccountSummaries []struct {
		Account     string `json:"account"`
		DisplayName string `json:"displayName"`
	} `json:"accountSummaries"`
	NextPageToken string `json:"nextPageToken"`
}

// ListAccounts returns the Analytics accounts visible to the token.
func (c *Client) ListAccounts(ctx context.Context, accessToken string) ([]Account, error) {
	accounts := []Account{}
	pageToken := ""
	for {
		values := url.Values{"pageSize": {"200"}}
		if pageToken != "" {
			values.Set("pageToken", pageToken)
		}

		var payload accountSummariesResponse
		if err := c.do(ctx, "analytics", accessToken, http.MethodGet, c.adminURL+"/v1beta/accountSummaries?"+values.Encode(), nil, nil, &payload); err != nil {
			return nil, err
		}
		for _, summary := range payload.AccountSummaries {
			accounts = append(accounts, Account{
				ID:          strings.TrimPrefix(summary.Account, "accounts/"),
				DisplayName: summary.DisplayName,
			})
		}

		if payload.NextPageToken == "" {
			return accounts, nil
		}
		pageToken = payload.NextPageToken
	}
}

type propertiesResponse struct {
	Properties []struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	} `json:"properties"`
}

// ListProperties returns the properties under an Analytics account.
func (c *Client) ListProperties(ctx context.Context, accessToken, accountID string) ([]connections.AnalyticsProperty, error) {
	accountID = strings.TrimPrefix(strings.TrimSpace(accountID), "accounts/")
	if accountID == "" {
		return nil, fmt.Errorf("%w: accountId is required", connections.ErrValidation)
	}

	values := url.Values{
		"filter":   {"parent:accounts/" + accountID},
		"pageSize": {"200"},
	}
	var payload propertiesResponse
	if err := c.do(ctx, "analytics", accessToken, http.MethodGet, c.adminURL+"/v1beta/properties?"+values.Encode(), nil, nil, &payload); err != nil {
		return nil, err
	}

	properties := make([]connections.AnalyticsProperty, 0, len(payload.Properties))
	for _, p := range payload.Properties {
		properties = append(properties, connections.AnalyticsProperty{
			ID:          strings.TrimPrefix(p.Name, "properties/"),
			DisplayName: p.DisplayName,
		})
	}
	return properties, nil
}

type runReportRequest struct {
	DateRanges []dateRange   `json:"dateRanges"`
	Dimensions []namedField  `json:"dimensions"`
	Metrics    []namedField  `json:"metrics"`
	OrderBys   []reportOrder `json:"orderBys"`
}

type dateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type namedField struct {
	Name string `json:"name"`
}

type reportOrder struct {
	Dimension struct {
		DimensionName string `json:"dimensionName"`
	} `json:"dimension"`
}

type runReportResponse struct {
	Rows json.RawMessage `json:"rows"`
}

// SessionsByDate runs a sessions-per-day report over the last days days.
func (c *Client) SessionsByDate(ctx context.Context, accessToken, propertyID string, days int) ([]report.Row, error) {
	propertyID = strings.TrimPrefix(strings.TrimSpace(propertyID), "properties/")
	if propertyID == "" {
		return nil, fmt.Errorf("%w: propertyId is required", connections.ErrValidation)
	}
	if days <= 0 {
		days = 30
	}

	order := reportOrder{}
	order.Dimension.DimensionName = "date"
	body := runReportRequest{
		DateRanges: []dateRange{{StartDate: fmt.Sprintf("%ddaysAgo", days), EndDate: "today"}},
		Dimensions: []namedField{{Name: "date"}},
		Metrics:    []namedField{{Name: "sessions"}},
		OrderBys:   []reportOrder{order},
	}

	var payload runReportResponse
	endpoint := fmt.Sprintf("%s/v1beta/properties/%s:runReport", c.dataURL, url.PathEscape(propertyID))
	if err := c.do(ctx, "analytics", accessToken, http.MethodPost, endpoint, body, nil, &payload); err != nil {
		return nil, err
	}

	rows := report.DecodeRows(payload.Rows)
	if rows == nil {
		rows = []report.Row{}
	}
	return rows, nil
}

type driveFilesResponse struct {
	Files []struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		WebViewLink  string `json:"webViewLink"`
		ModifiedTime string `json:"modifiedTime"`
	} `json:"files"`
}

// ListSpreadsheets returns the most recently modified spreadsheets in the user's Drive.
func (c *Client) ListSpreadsheets(ctx context.Context, accessToken string) ([]connections.SheetFile, error) {
	values := url.Values{
		"q":        {fmt.Sprintf("mimeType='%s' and trashed=false", spreadsheetMIME)},
		"fields":   {"files(id,name,webViewLink,modifiedTime)"},
		"orderBy":  {"modifiedTime desc"},
		"pageSize": {"100"},
	}

	var payload driveFilesResponse
	if err := c.do(ctx, "sheets", accessToken, http.MethodGet, c.driveURL+"/drive/v3/files?"+values.Encode(), nil, nil, &payload); err != nil {
		return nil, err
	}

	files := make([]connections.SheetFile, 0, len(payload.Files))
	for _, f := range payload.Files {
		files = append(files, connections.SheetFile{
			ID:           f.ID,
			Name:         f.Name,
			URL:          f.WebViewLink,
			ModifiedTime: f.ModifiedTime,
		})
	}
	return files, nil
}

type accessibleCustomersResponse struct {
	ResourceNames []string `json:"resourceNames"`
}

// ListAdsCustomers returns the Ads customers the token can access.
func (c *Client) ListAdsCustomers(ctx context.Context, accessToken string) ([]AdsCustomer, error) {
	headers := http.Header{}
	if c.adsDeveloperToken != "" {
		headers.Set("developer-token", c.adsDeveloperToken)
	}

	var payload accessibleCustomersResponse
	endpoint := fmt.Sprintf("%s/%s/customers:listAccessibleCustomers", c.adsURL, adsAPIVersion)
	if err := c.do(ctx, "ads", accessToken, http.MethodGet, endpoint, nil, headers, &payload); err != nil {
		return nil, err
	}

	customers := make([]AdsCustomer, 0, len(payload.ResourceNames))
	for _, name := range payload.ResourceNames {
		customers = append(customers, AdsCustomer{
			ID:           strings.TrimPrefix(name, "customers/"),
			ResourceName: name,
		})
	}
	return customers, nil
}

// do sends one authenticated request through an oauth2 transport and decodes the JSON response.
func (c *Client) do(ctx context.Context, service, accessToken, method, endpoint string, body any, headers http.Header, dst any) error {
	if strings.TrimSpace(accessToken) == "" {
		return ErrUnauthorized
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", service, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", service, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	client := c.authorized(ctx, accessToken)
	resp, err := client.Do(req)
	if err != nil {
		metrics.CountGoogleAPIError(service)
		return fmt.Errorf("%w: call %s: %v", ErrUpstream, service, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		metrics.CountGoogleAPIError(service)
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		metrics.CountGoogleAPIError(service)
		return fmt.Errorf("%w: %s returned status %d", ErrUpstream, service, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		metrics.CountGoogleAPIError(service)
		return fmt.Errorf("%w: decode %s response: %v", ErrUpstream, service, err)
	}
	return nil
}

func (c *Client) authorized(ctx context.Context, accessToken string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	client.Timeout = c.http.Timeout
	return client
}
