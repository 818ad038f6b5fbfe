package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewire/sitewire/internal/platform"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte("not-known-to-the-client"))
	require.NoError(t, err)
	return signed
}

func TestCredentialsRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := platform.NewMemoryStorage()
	creds := NewCredentials(storage)

	_, err := creds.Load(ctx)
	assert.ErrorIs(t, err, ErrNoCredential)

	require.NoError(t, creds.Save(ctx, " tok ", &Profile{ID: "1", Email: "ops@example.com", Role: "admin"}))

	cred, err := creds.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", cred.Token)
	require.NotNil(t, cred.Profile)
	assert.Equal(t, "ops@example.com", cred.Profile.Email)

	raw, ok, err := storage.Get(ctx, UserKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"1","email":"ops@example.com","role":"admin"}`, raw)

	require.NoError(t, creds.Save(ctx, "tok2", nil))
	cred, err = creds.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, cred.Profile)

	require.NoError(t, creds.Clear(ctx))
	assert.Empty(t, storage.Keys())
}

func TestCredentialsSaveRequiresToken(t *testing.T) {
	creds := NewCredentials(platform.NewMemoryStorage())
	assert.Error(t, creds.Save(context.Background(), "  ", nil))

	var missing *Credentials
	assert.Error(t, missing.Save(context.Background(), "tok", nil))
	assert.NoError(t, missing.Clear(context.Background()))
}

func TestCredentialsClaims(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	creds := NewCredentials(platform.NewMemoryStorage())

	_, err := creds.Claims(ctx)
	assert.ErrorIs(t, err, ErrNoCredential)

	require.NoError(t, creds.Save(ctx, signedToken(t, now.Add(time.Hour)), nil))
	claims, err := creds.Claims(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.Subject)

	expired, err := creds.Expired(ctx, now)
	require.NoError(t, err)
	assert.False(t, expired)

	expired, err = creds.Expired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, expired)

	require.NoError(t, creds.Save(ctx, "opaque-session-token", nil))
	_, err = creds.Claims(ctx)
	assert.Error(t, err)
}
