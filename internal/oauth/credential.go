package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/smart-mcp-proxy/mcpctx/internal/secret"
)

// Credential is an OAuth token set stored per server
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	// ClientID is the OAuth client used for the refresh exchange
	ClientID string `json:"client_id,omitempty"`
}

// HasRefreshToken reports whether a refresh exchange is possible
func (c *Credential) HasRefreshToken() bool {
	return c != nil && c.RefreshToken != ""
}

// IsExpired reports whether the access token is past its expiry.
// A credential without an expiry never expires.
func (c *Credential) IsExpired(now time.Time) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt)
}

// ExpiresWithin reports whether expiry falls inside now+window
func (c *Credential) ExpiresWithin(now time.Time, window time.Duration) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return c.ExpiresAt.Before(now.Add(window))
}

// ExpiryFromJWT reads the exp claim of a JWT access token without verifying it.
// Opaque tokens return false.
func ExpiryFromJWT(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// CredentialKey is the secret store key for a server's credential
func CredentialKey(serverID string) string {
	return "oauth:" + serverID
}

// CredentialStore persists credentials as JSON in a secret.Store
type CredentialStore struct {
	store secret.Store
}

// NewCredentialStore wraps a secret store
func NewCredentialStore(store secret.Store) *CredentialStore {
	return &CredentialStore{store: store}
}

// Load returns the stored credential or ErrNoCredential
func (s *CredentialStore) Load(ctx context.Context, serverID string) (*Credential, error) {
	data, err := s.store.Get(ctx, CredentialKey(serverID))
	if errors.Is(err, secret.ErrNotFound) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, err
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("corrupt credential for %s: %w", serverID, err)
	}
	return &cred, nil
}

// Save stores cred under serverID tagged with clientID
func (s *CredentialStore) Save(ctx context.Context, serverID string, cred *Credential, clientID string) error {
	if cred == nil {
		return fmt.Errorf("nil credential for %s", serverID)
	}

	record := *cred
	record.ClientID = clientID
	data, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}
	return s.store.Set(ctx, CredentialKey(serverID), data)
}

// Delete removes the stored credential
func (s *CredentialStore) Delete(ctx context.Context, serverID string) error {
	return s.store.Delete(ctx, CredentialKey(serverID))
}
