package connections

import (
	"errors"
	"strings"
)

// Provider identifies a connected third-party Google product.
type Provider string

const (
	ProviderAnalytics Provider = "analytics"
	ProviderSheets    Provider = "sheets"
	ProviderAds       Provider = "ads"
)

// Providers lists every supported provider in display order.
var Providers = []Provider{ProviderAnalytics, ProviderSheets, ProviderAds}

// ErrInvalidProvider is returned for an unknown service name.
var ErrInvalidProvider = errors.New("unknown integration provider")

// Store keys. The names match the ones the dashboard has always persisted.
const (
	KeyAnalyticsAccessToken  = "googleAccessToken"
	KeyAnalyticsRefreshToken = "ga_refresh_token"
	KeyAnalyticsExpiresAt    = "ga_token_expires_at"
	KeyAnalyticsAccountID    = "ga_account_id"
	KeyAnalyticsPropertyID   = "ga_property_id"
	KeyAnalyticsProperties   = "ga_properties"

	KeySheetsAccessToken  = "googleSheetsAccessToken"
	KeySheetsRefreshToken = "googleSheetsRefreshToken"
	KeySheetsExpiresAt    = "googleSheetsTokenExpiresAt"
	KeySheetsFiles        = "googleSheetsFiles"

	KeyAdsAccessToken  = "googleAdsAccessToken"
	KeyAdsRefreshToken = "googleAdsRefreshToken"
	KeyAdsExpiresAt    = "googleAdsTokenExpiresAt"
	KeyAdsCustomerID   = "googleAdsCustomerId"
)

type credentialKeys struct {
	access  string
	refresh string
	expires string
}

var providerCredentialKeys = map[Provider]credentialKeys{
	ProviderAnalytics: {access: KeyAnalyticsAccessToken, refresh: KeyAnalyticsRefreshToken, expires: KeyAnalyticsExpiresAt},
	ProviderSheets:    {access: KeySheetsAccessToken, refresh: KeySheetsRefreshToken, expires: KeySheetsExpiresAt},
	ProviderAds:       {access: KeyAdsAccessToken, refresh: KeyAdsRefreshToken, expires: KeyAdsExpiresAt},
}

// providerKeys lists every key owned by a provider. Disconnect removes all of them.
var providerKeys = map[Provider][]string{
	ProviderAnalytics: {
		KeyAnalyticsAccessToken,
		KeyAnalyticsRefreshToken,
		KeyAnalyticsExpiresAt,
		KeyAnalyticsAccountID,
		KeyAnalyticsPropertyID,
		KeyAnalyticsProperties,
	},
	ProviderSheets: {
		KeySheetsAccessToken,
		KeySheetsRefreshToken,
		KeySheetsExpiresAt,
		KeySheetsFiles,
	},
	ProviderAds: {
		KeyAdsAccessToken,
		KeyAdsRefreshToken,
		KeyAdsExpiresAt,
		KeyAdsCustomerID,
	},
}

// ParseProvider accepts the short names as well as the "google-*" route names.
func ParseProvider(value string) (Provider, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.TrimPrefix(normalized, "google-")
	normalized = strings.TrimPrefix(normalized, "google_")
	switch normalized {
	case "analytics", "ga", "ga4":
		return ProviderAnalytics, nil
	case "sheets", "drive":
		return ProviderSheets, nil
	case "ads":
		return ProviderAds, nil
	default:
		return "", ErrInvalidProvider
	}
}

// Keys returns every store key owned by the provider.
func (p Provider) Keys() []string {
	keys := providerKeys[p]
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	_, ok := providerKeys[p]
	return ok
}
