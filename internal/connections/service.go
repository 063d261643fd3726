package connections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidCredential is returned when a credential lacks an access token.
	ErrInvalidCredential = errors.New("credential requires an access token")
	// ErrValidation is returned for malformed selections.
	ErrValidation = errors.New("validation error")
	// ErrNotConnected is returned when a provider has no stored access token.
	ErrNotConnected = errors.New("integration is not connected")
)

// AnalyticsSelection is the active Analytics account and property.
type AnalyticsSelection struct {
	AccountID  string `json:"accountId"`
	PropertyID string `json:"propertyId"`
}

// AnalyticsProperty is one property listed for the selected account.
type AnalyticsProperty struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// SheetFile is a spreadsheet the user connected.
type SheetFile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	URL          string `json:"url,omitempty"`
	ModifiedTime string `json:"modifiedTime,omitempty"`
}

// AdsSelection is the active Google Ads customer.
type AdsSelection struct {
	CustomerID string `json:"customerId"`
}

// Service reads and writes a user's connected integrations.
type Service struct {
	store  Store
	tokens TokenDocuments
	now    func() time.Time
}

// NewService wires a Service. tokens may be nil when no document store is available.
func NewService(store Store, tokens TokenDocuments) *Service {
	return &Service{store: store, tokens: tokens, now: time.Now}
}

// SaveCredential writes the provider's token keys. An empty refresh token
// leaves the stored one in place. A nil expiry clears the stored expiry, since
// it belonged to the access token being replaced.
func (s *Service) SaveCredential(ctx context.Context, userID uuid.UUID, provider Provider, cred Credential) error {
	keys, ok := providerCredentialKeys[provider]
	if !ok {
		return ErrInvalidProvider
	}
	cred.AccessToken = strings.TrimSpace(cred.AccessToken)
	if cred.AccessToken == "" {
		return ErrInvalidCredential
	}

	if err := s.store.Set(ctx, userID, keys.access, cred.AccessToken); err != nil {
		return fmt.Errorf("store %s access token: %w", provider, err)
	}
	if refresh := strings.TrimSpace(cred.RefreshToken); refresh != "" {
		if err := s.store.Set(ctx, userID, keys.refresh, refresh); err != nil {
			return fmt.Errorf("store %s refresh token: %w", provider, err)
		}
	}
	if cred.ExpiresAt != nil {
		if err := s.store.Set(ctx, userID, keys.expires, cred.ExpiresAt.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("store %s expiry: %w", provider, err)
		}
	} else if err := s.store.Remove(ctx, userID, keys.expires); err != nil {
		return fmt.Errorf("clear %s expiry: %w", provider, err)
	}

	if provider == ProviderAnalytics && s.tokens != nil {
		stored, err := s.Credential(ctx, userID, provider)
		if err != nil {
			return err
		}
		if stored != nil {
			if err := s.tokens.SaveAnalyticsToken(ctx, userID, *stored); err != nil {
				return fmt.Errorf("save analytics token document: %w", err)
			}
		}
	}
	return nil
}

// Credential returns the provider's stored credential, or nil when no access token is stored.
func (s *Service) Credential(ctx context.Context, userID uuid.UUID, provider Provider) (*Credential, error) {
	keys, ok := providerCredentialKeys[provider]
	if !ok {
		return nil, ErrInvalidProvider
	}

	access, err := s.get(ctx, userID, keys.access)
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, nil
	}

	refresh, err := s.get(ctx, userID, keys.refresh)
	if err != nil {
		return nil, err
	}
	cred := &Credential{AccessToken: access, RefreshToken: refresh}

	expires, err := s.get(ctx, userID, keys.expires)
	if err != nil {
		return nil, err
	}
	if expires != "" {
		if parsed, err := time.Parse(time.RFC3339, expires); err == nil {
			cred.ExpiresAt = &parsed
		}
	}
	return cred, nil
}

// AccessToken returns the provider's stored access token or ErrNotConnected.
func (s *Service) AccessToken(ctx context.Context, userID uuid.UUID, provider Provider) (string, error) {
	cred, err := s.Credential(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", fmt.Errorf("%w: %s", ErrNotConnected, provider)
	}
	return cred.AccessToken, nil
}

// SelectAnalyticsAccount switches the active account. The previous property
// and any property list loaded for the old account are cleared first so a
// stale list is never shown against the new account.
func (s *Service) SelectAnalyticsAccount(ctx context.Context, userID uuid.UUID, accountID string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("%w: accountId is required", ErrValidation)
	}
	if err := s.store.Remove(ctx, userID, KeyAnalyticsPropertyID, KeyAnalyticsProperties); err != nil {
		return fmt.Errorf("clear analytics properties: %w", err)
	}
	if err := s.store.Set(ctx, userID, KeyAnalyticsAccountID, accountID); err != nil {
		return fmt.Errorf("store analytics account: %w", err)
	}
	return nil
}

// SelectAnalyticsProperty records the active property under the given account.
func (s *Service) SelectAnalyticsProperty(ctx context.Context, userID uuid.UUID, accountID, propertyID string) error {
	accountID = strings.TrimSpace(accountID)
	propertyID = strings.TrimSpace(propertyID)
	if propertyID == "" {
		return fmt.Errorf("%w: propertyId is required", ErrValidation)
	}

	current, err := s.get(ctx, userID, KeyAnalyticsAccountID)
	if err != nil {
		return err
	}
	if accountID == "" {
		accountID = current
	}
	if accountID == "" {
		return fmt.Errorf("%w: select an account before a property", ErrValidation)
	}
	if accountID != current {
		if err := s.SelectAnalyticsAccount(ctx, userID, accountID); err != nil {
			return err
		}
	}

	if err := s.store.Set(ctx, userID, KeyAnalyticsPropertyID, propertyID); err != nil {
		return fmt.Errorf("store analytics property: %w", err)
	}
	return nil
}

// AnalyticsSelection returns the stored account and property ids.
func (s *Service) AnalyticsSelection(ctx context.Context, userID uuid.UUID) (AnalyticsSelection, error) {
	accountID, err := s.get(ctx, userID, KeyAnalyticsAccountID)
	if err != nil {
		return AnalyticsSelection{}, err
	}
	propertyID, err := s.get(ctx, userID, KeyAnalyticsPropertyID)
	if err != nil {
		return AnalyticsSelection{}, err
	}
	return AnalyticsSelection{AccountID: accountID, PropertyID: propertyID}, nil
}

// CacheAnalyticsProperties stores the property list loaded for accountID.
// The list is dropped when the account changed while it was being fetched.
func (s *Service) CacheAnalyticsProperties(ctx context.Context, userID uuid.UUID, accountID string, properties []AnalyticsProperty) error {
	current, err := s.get(ctx, userID, KeyAnalyticsAccountID)
	if err != nil {
		return err
	}
	if current != accountID {
		return nil
	}
	return s.setJSON(ctx, userID, KeyAnalyticsProperties, properties)
}

// AnalyticsProperties returns the cached property list for the selected account.
func (s *Service) AnalyticsProperties(ctx context.Context, userID uuid.UUID) ([]AnalyticsProperty, error) {
	var properties []AnalyticsProperty
	if err := s.getJSON(ctx, userID, KeyAnalyticsProperties, &properties); err != nil {
		return nil, err
	}
	if properties == nil {
		properties = []AnalyticsProperty{}
	}
	return properties, nil
}

// SelectAdsCustomer records the active Ads customer.
func (s *Service) SelectAdsCustomer(ctx context.Context, userID uuid.UUID, customerID string) error {
	customerID = strings.TrimSpace(strings.ReplaceAll(customerID, "-", ""))
	if customerID == "" {
		return fmt.Errorf("%w: customerId is required", ErrValidation)
	}
	if err := s.store.Set(ctx, userID, KeyAdsCustomerID, customerID); err != nil {
		return fmt.Errorf("store ads customer: %w", err)
	}
	return nil
}

// AdsSelection returns the stored Ads customer.
func (s *Service) AdsSelection(ctx context.Context, userID uuid.UUID) (AdsSelection, error) {
	customerID, err := s.get(ctx, userID, KeyAdsCustomerID)
	if err != nil {
		return AdsSelection{}, err
	}
	return AdsSelection{CustomerID: customerID}, nil
}

// ListSheetFiles returns the connected spreadsheets in stored order.
// A corrupt stored list reads as empty.
func (s *Service) ListSheetFiles(ctx context.Context, userID uuid.UUID) ([]SheetFile, error) {
	var files []SheetFile
	if err := s.getJSON(ctx, userID, KeySheetsFiles, &files); err != nil {
		return nil, err
	}
	if files == nil {
		files = []SheetFile{}
	}
	return files, nil
}

// AddSheetFile connects a spreadsheet unless one with the same id is already connected.
// It reports whether the file was added.
func (s *Service) AddSheetFile(ctx context.Context, userID uuid.UUID, file SheetFile) (bool, error) {
	file.ID = strings.TrimSpace(file.ID)
	if file.ID == "" {
		return false, fmt.Errorf("%w: file id is required", ErrValidation)
	}
	if strings.TrimSpace(file.Name) == "" {
		file.Name = file.ID
	}

	files, err := s.ListSheetFiles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, existing := range files {
		if existing.ID == file.ID {
			return false, nil
		}
	}

	files = append(files, file)
	if err := s.setJSON(ctx, userID, KeySheetsFiles, files); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveSheetFile disconnects the spreadsheet with the given id. The list key
// is deleted once the last file is removed.
func (s *Service) RemoveSheetFile(ctx context.Context, userID uuid.UUID, fileID string) (bool, error) {
	files, err := s.ListSheetFiles(ctx, userID)
	if err != nil {
		return false, err
	}

	kept := files[:0]
	removed := false
	for _, file := range files {
		if file.ID == fileID {
			removed = true
			continue
		}
		kept = append(kept, file)
	}
	if !removed {
		return false, nil
	}

	if len(kept) == 0 {
		return true, s.store.Remove(ctx, userID, KeySheetsFiles)
	}
	return true, s.setJSON(ctx, userID, KeySheetsFiles, kept)
}

// Disconnect removes every key owned by the provider, plus the Analytics token document.
func (s *Service) Disconnect(ctx context.Context, userID uuid.UUID, provider Provider) error {
	if !provider.Valid() {
		return ErrInvalidProvider
	}
	if err := s.store.Remove(ctx, userID, provider.Keys()...); err != nil {
		return fmt.Errorf("remove %s keys: %w", provider, err)
	}
	if provider == ProviderAnalytics && s.tokens != nil {
		if err := s.tokens.DeleteAnalyticsToken(ctx, userID); err != nil {
			return fmt.Errorf("delete analytics token document: %w", err)
		}
	}
	return nil
}

// redirectParams names the query parameters each provider's tokens arrive in.
var redirectParams = map[Provider]string{
	ProviderAnalytics: "",
	ProviderSheets:    "sheets_",
	ProviderAds:       "ads_",
}

// CaptureRedirect stores the provider's tokens carried on an OAuth redirect URL.
// Analytics reads the bare access_token/refresh_token/expires_in names; Sheets
// and Ads read the same names with a "sheets_" or "ads_" prefix. Parameters
// addressed to another provider are ignored. It reports whether a token was stored.
func (s *Service) CaptureRedirect(ctx context.Context, userID uuid.UUID, provider Provider, values url.Values) (bool, error) {
	prefix, ok := redirectParams[provider]
	if !ok {
		return false, ErrInvalidProvider
	}
	access := strings.TrimSpace(values.Get(prefix + "access_token"))
	if access == "" {
		return false, nil
	}

	cred := Credential{
		AccessToken:  access,
		RefreshToken: strings.TrimSpace(values.Get(prefix + "refresh_token")),
	}
	if expiresIn := strings.TrimSpace(values.Get(prefix + "expires_in")); expiresIn != "" {
		if seconds, err := strconv.Atoi(expiresIn); err == nil && seconds > 0 {
			expires := s.now().Add(time.Duration(seconds) * time.Second).UTC().Truncate(time.Second)
			cred.ExpiresAt = &expires
		}
	}

	if err := s.SaveCredential(ctx, userID, provider, cred); err != nil {
		return false, err
	}

	if provider == ProviderAds {
		if customerID := strings.TrimSpace(values.Get("ads_customer_id")); customerID != "" {
			if err := s.SelectAdsCustomer(ctx, userID, customerID); err != nil {
				return true, err
			}
		}
	}
	return true, nil
}

func (s *Service) get(ctx context.Context, userID uuid.UUID, key string) (string, error) {
	value, ok, err := s.store.Get(ctx, userID, key)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return "", nil
	}
	return strings.TrimSpace(value), nil
}

func (s *Service) getJSON(ctx context.Context, userID uuid.UUID, key string, dst any) error {
	raw, err := s.get(ctx, userID, key)
	if err != nil {
		return err
	}
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		// Unreadable lists are treated as absent rather than failing every read.
		return nil
	}
	return nil
}

func (s *Service) setJSON(ctx context.Context, userID uuid.UUID, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.store.Set(ctx, userID, key, string(data)); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}
