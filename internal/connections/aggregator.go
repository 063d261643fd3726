package connections

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AnalyticsContext is the Analytics slot of a QueryContext.
type AnalyticsContext struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	AccountID    string     `json:"accountId"`
	PropertyID   string     `json:"propertyId"`
}

// SheetsContext is the Sheets slot of a QueryContext.
type SheetsContext struct {
	AccessToken  string      `json:"accessToken,omitempty"`
	RefreshToken string      `json:"refreshToken,omitempty"`
	Files        []SheetFile `json:"files"`
}

// AdsContext is the Ads slot of a QueryContext.
type AdsContext struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	CustomerID   string `json:"customerId"`
}

// QueryContext describes every connected integration at submission time.
// A nil slot means the provider is not connected and encodes as JSON null.
type QueryContext struct {
	GoogleAnalytics *AnalyticsContext `json:"googleAnalytics"`
	GoogleSheets    *SheetsContext    `json:"googleSheets"`
	GoogleAds       *AdsContext       `json:"googleAds"`
}

// Connected reports whether any provider slot is populated.
func (q QueryContext) Connected() bool {
	return q.GoogleAnalytics != nil || q.GoogleSheets != nil || q.GoogleAds != nil
}

// ConnectedProviders lists the populated slots in display order.
func (q QueryContext) ConnectedProviders() []Provider {
	providers := make([]Provider, 0, len(Providers))
	if q.GoogleAnalytics != nil {
		providers = append(providers, ProviderAnalytics)
	}
	if q.GoogleSheets != nil {
		providers = append(providers, ProviderSheets)
	}
	if q.GoogleAds != nil {
		providers = append(providers, ProviderAds)
	}
	return providers
}

// TokenRefresher exchanges a refresh token for a fresh credential.
type TokenRefresher interface {
	Refresh(ctx context.Context, provider Provider, cred Credential) (Credential, error)
}

// Aggregator assembles QueryContext values from the connection store.
type Aggregator struct {
	service   *Service
	refresher TokenRefresher
	logger    *slog.Logger
	now       func() time.Time
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithRefresher makes the aggregator refresh expired Analytics tokens before use.
// Without it expired tokens are passed through unchanged.
func WithRefresher(refresher TokenRefresher) AggregatorOption {
	return func(a *Aggregator) {
		a.refresher = refresher
	}
}

// NewAggregator constructs an Aggregator over the given service.
func NewAggregator(service *Service, logger *slog.Logger, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{service: service, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Build reads the user's connections and returns the context for one query.
// Providers missing any required field get a nil slot; that is not an error.
func (a *Aggregator) Build(ctx context.Context, userID uuid.UUID) (QueryContext, error) {
	var qc QueryContext

	analytics, err := a.analytics(ctx, userID)
	if err != nil {
		return QueryContext{}, err
	}
	qc.GoogleAnalytics = analytics

	sheets, err := a.sheets(ctx, userID)
	if err != nil {
		return QueryContext{}, err
	}
	qc.GoogleSheets = sheets

	ads, err := a.ads(ctx, userID)
	if err != nil {
		return QueryContext{}, err
	}
	qc.GoogleAds = ads

	return qc, nil
}

func (a *Aggregator) analytics(ctx context.Context, userID uuid.UUID) (*AnalyticsContext, error) {
	cred, err := a.analyticsCredential(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cred == nil || cred.AccessToken == "" {
		return nil, nil
	}

	selection, err := a.service.AnalyticsSelection(ctx, userID)
	if err != nil {
		return nil, err
	}
	if selection.AccountID == "" || selection.PropertyID == "" {
		return nil, nil
	}

	return &AnalyticsContext{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    cred.ExpiresAt,
		AccountID:    selection.AccountID,
		PropertyID:   selection.PropertyID,
	}, nil
}

// AnalyticsToken returns the Analytics access token the same way Build would
// read it, refreshing an expired token when a refresher is configured.
func (a *Aggregator) AnalyticsToken(ctx context.Context, userID uuid.UUID) (string, error) {
	cred, err := a.analyticsCredential(ctx, userID)
	if err != nil {
		return "", err
	}
	if cred == nil || cred.AccessToken == "" {
		return "", fmt.Errorf("%w: %s", ErrNotConnected, ProviderAnalytics)
	}
	return cred.AccessToken, nil
}

// analyticsCredential prefers the server-side token document over the store keys.
func (a *Aggregator) analyticsCredential(ctx context.Context, userID uuid.UUID) (*Credential, error) {
	var cred *Credential
	if a.service.tokens != nil {
		doc, err := a.service.tokens.AnalyticsToken(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load analytics token document: %w", err)
		}
		cred = doc
	}
	if cred == nil {
		stored, err := a.service.Credential(ctx, userID, ProviderAnalytics)
		if err != nil {
			return nil, err
		}
		cred = stored
	}
	if cred == nil {
		return nil, nil
	}

	if a.refresher == nil || !cred.Expired(a.now()) || cred.RefreshToken == "" {
		return cred, nil
	}

	refreshed, err := a.refresher.Refresh(ctx, ProviderAnalytics, *cred)
	if err != nil {
		a.logger.Warn("analytics token refresh failed; using stored token", "user_id", userID, "error", err)
		return cred, nil
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	if err := a.service.SaveCredential(ctx, userID, ProviderAnalytics, refreshed); err != nil {
		a.logger.Warn("storing refreshed analytics token failed", "user_id", userID, "error", err)
	}
	return &refreshed, nil
}

func (a *Aggregator) sheets(ctx context.Context, userID uuid.UUID) (*SheetsContext, error) {
	files, err := a.service.ListSheetFiles(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	slot := &SheetsContext{Files: files}
	cred, err := a.service.Credential(ctx, userID, ProviderSheets)
	if err != nil {
		return nil, err
	}
	if cred != nil {
		slot.AccessToken = cred.AccessToken
		slot.RefreshToken = cred.RefreshToken
	}
	return slot, nil
}

func (a *Aggregator) ads(ctx context.Context, userID uuid.UUID) (*AdsContext, error) {
	cred, err := a.service.Credential(ctx, userID, ProviderAds)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, nil
	}

	selection, err := a.service.AdsSelection(ctx, userID)
	if err != nil {
		return nil, err
	}
	if selection.CustomerID == "" {
		return nil, nil
	}

	return &AdsContext{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		CustomerID:   selection.CustomerID,
	}, nil
}
