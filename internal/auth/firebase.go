package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

const firebaseIssuerPrefix = "https://securetoken.google.com/"

// ErrInvalidToken is returned when an identity token fails verification.
var ErrInvalidToken = errors.New("invalid identity token")

// FirebaseVerifier validates Firebase ID tokens issued for one project.
type FirebaseVerifier struct {
	verifier  *oidc.IDTokenVerifier
	allowlist Allowlist
}

// NewFirebaseVerifier discovers the project's signing keys and builds a verifier.
func NewFirebaseVerifier(ctx context.Context, projectID string, allowlist Allowlist) (*FirebaseVerifier, error) {
	provider, err := oidc.NewProvider(ctx, firebaseIssuerPrefix+projectID)
	if err != nil {
		return nil, fmt.Errorf("firebase oidc provider: %w", err)
	}
	return &FirebaseVerifier{
		verifier:  provider.Verifier(&oidc.Config{ClientID: projectID}),
		allowlist: allowlist,
	}, nil
}

// NewFirebaseVerifierWithKeySet builds a verifier against a fixed key set
// that admits every address.
func NewFirebaseVerifierWithKeySet(projectID string, keySet oidc.KeySet) *FirebaseVerifier {
	return &FirebaseVerifier{
		verifier: oidc.NewVerifier(firebaseIssuerPrefix+projectID, keySet, &oidc.Config{ClientID: projectID}),
	}
}

// Verify checks the raw token and returns the identity it asserts.
func (f *FirebaseVerifier) Verify(ctx context.Context, rawToken string) (Identity, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return Identity{}, ErrInvalidToken
	}

	idToken, err := f.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims FirebaseClaims
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("%w: parse claims: %v", ErrInvalidToken, err)
	}

	identity := claims.Identity()
	if identity.Subject == "" || identity.Email == "" {
		return Identity{}, ErrInvalidIdentity
	}
	return identity, nil
}

// IsEmailAllowed applies the same allowlist rules as Google sign-in.
func (f *FirebaseVerifier) IsEmailAllowed(email string) bool {
	return f.allowlist.Allows(email)
}
