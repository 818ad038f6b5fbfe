// Package auth manages the stored bearer credential and the request-side
// interceptor that attaches and invalidates it.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sitewire/sitewire/internal/platform"
)

// Storage keys shared with the rest of the site.
const (
	TokenKey = "token"
	UserKey  = "user"
)

// ErrNoCredential is returned when no token is stored.
var ErrNoCredential = errors.New("no stored credential")

// Profile is the cached user profile stored next to the token.
type Profile struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Credential is an opaque bearer token plus its profile.
type Credential struct {
	Token   string   `json:"token"`
	Profile *Profile `json:"profile,omitempty"`
}

// Credentials reads and writes the credential in browser-scoped storage.
type Credentials struct {
	storage platform.Storage
}

// NewCredentials binds credential handling to storage.
func NewCredentials(storage platform.Storage) *Credentials {
	return &Credentials{storage: storage}
}

// Save stores token and profile (login).
func (c *Credentials) Save(ctx context.Context, token string, profile *Profile) error {
	if c == nil || c.storage == nil {
		return errors.New("credential storage is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is required")
	}

	if err := c.storage.Set(ctx, TokenKey, token); err != nil {
		return fmt.Errorf("store token: %w", err)
	}

	if profile == nil {
		if err := c.storage.Delete(ctx, UserKey); err != nil {
			return fmt.Errorf("clear profile: %w", err)
		}
		return nil
	}

	payload, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := c.storage.Set(ctx, UserKey, string(payload)); err != nil {
		return fmt.Errorf("store profile: %w", err)
	}
	return nil
}

// Token returns the stored token or "" when none is present.
func (c *Credentials) Token(ctx context.Context) (string, error) {
	if c == nil || c.storage == nil {
		return "", nil
	}
	token, ok, err := c.storage.Get(ctx, TokenKey)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	if !ok {
		return "", nil
	}
	return strings.TrimSpace(token), nil
}

// Load returns the stored credential, or ErrNoCredential.
func (c *Credentials) Load(ctx context.Context) (*Credential, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNoCredential
	}

	cred := &Credential{Token: token}
	raw, ok, err := c.storage.Get(ctx, UserKey)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	if ok && strings.TrimSpace(raw) != "" {
		var profile Profile
		if err := json.Unmarshal([]byte(raw), &profile); err == nil {
			cred.Profile = &profile
		}
	}
	return cred, nil
}

// Clear deletes the token and the cached profile (logout, 401).
func (c *Credentials) Clear(ctx context.Context) error {
	if c == nil || c.storage == nil {
		return nil
	}
	return errors.Join(
		c.storage.Delete(ctx, TokenKey),
		c.storage.Delete(ctx, UserKey),
	)
}

// Claims decodes the stored token's registered claims without verifying
// its signature. Opaque (non-JWT) tokens return an error.
func (c *Credentials) Claims(ctx context.Context) (*jwt.RegisteredClaims, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNoCredential
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("decode token claims: %w", err)
	}
	return claims, nil
}

// Expired reports whether the stored token carries an exp claim in the past.
// Tokens without an exp claim never expire client-side.
func (c *Credentials) Expired(ctx context.Context, now time.Time) (bool, error) {
	claims, err := c.Claims(ctx)
	if err != nil {
		return false, err
	}
	if claims.ExpiresAt == nil {
		return false, nil
	}
	return !now.Before(claims.ExpiresAt.Time), nil
}
