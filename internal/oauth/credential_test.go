package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smart-mcp-proxy/mcpctx/internal/secret"
)

func TestCredentialExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		cred          *Credential
		expired       bool
		withinFiveMin bool
	}{
		{"no expiry", &Credential{AccessToken: "a"}, false, false},
		{"expires in 4 minutes", &Credential{ExpiresAt: now.Add(4 * time.Minute)}, false, true},
		{"expires in 1 hour", &Credential{ExpiresAt: now.Add(time.Hour)}, false, false},
		{"already expired", &Credential{ExpiresAt: now.Add(-time.Second)}, true, true},
		{"expires exactly now", &Credential{ExpiresAt: now}, true, true},
		{"nil credential", nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expired, tt.cred.IsExpired(now))
			assert.Equal(t, tt.withinFiveMin, tt.cred.ExpiresWithin(now, 5*time.Minute))
		})
	}
}

func TestExpiryFromJWT(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
		Subject:   "user",
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)

	got, ok := ExpiryFromJWT(token)
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok = ExpiryFromJWT("opaque-token")
	assert.False(t, ok)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user"}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, ok = ExpiryFromJWT(noExp)
	assert.False(t, ok)
}

func TestCredentialStore(t *testing.T) {
	ctx := context.Background()
	secrets := secret.NewMemoryStore()
	store := NewCredentialStore(secrets)

	_, err := store.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrNoCredential)

	cred := &Credential{AccessToken: "at", RefreshToken: "rt", ClientID: "ignored"}
	require.NoError(t, store.Save(ctx, "a", cred, "client-1"))
	assert.Equal(t, "ignored", cred.ClientID, "caller credential is not mutated")

	got, err := store.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "at", got.AccessToken)
	assert.Equal(t, "client-1", got.ClientID)

	raw, err := secrets.Get(ctx, CredentialKey("a"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"client_id":"client-1"`)

	require.NoError(t, store.Delete(ctx, "a"))
	_, err = store.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrNoCredential)

	require.NoError(t, secrets.Set(ctx, CredentialKey("bad"), []byte("{not json")))
	_, err = store.Load(ctx, "bad")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoCredential)
}

func TestClassifyRefreshError(t *testing.T) {
	assert.Equal(t, RefreshResultSuccess, classifyRefreshError(nil))
	assert.Equal(t, RefreshResultInvalidGrant, classifyRefreshError(assertErr("status 400: invalid_grant expired")))
	assert.Equal(t, RefreshResultNetwork, classifyRefreshError(assertErr("dial tcp 127.0.0.1:1: connection refused")))
	assert.Equal(t, RefreshResultNetwork, classifyRefreshError(context.DeadlineExceeded))
	assert.Equal(t, RefreshResultOther, classifyRefreshError(assertErr("something odd")))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
