// Package auth maintains cached privileged sessions against the external
// ticket API on behalf of the coordinator.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nocdesk/helpdeskbot/internal/models"
	"github.com/nocdesk/helpdeskbot/internal/store"
)

// DefaultTokenTTL bounds the lifetime of a cached token. The external API
// does not report expiry, so tokens older than this are re-acquired.
const DefaultTokenTTL = 30 * time.Minute

// LoginFunc performs a login call against the external API and returns a
// fresh access token.
type LoginFunc func(ctx context.Context) (string, error)

// CredentialCache caches admin session tokens per operator identity. Tokens
// are persisted through the store so a restart does not force a re-login.
type CredentialCache struct {
	store    store.Store
	login    LoginFunc
	tokenTTL time.Duration
}

// NewCredentialCache creates a credential cache backed by the given store.
// A non-positive ttl falls back to DefaultTokenTTL.
func NewCredentialCache(st store.Store, login LoginFunc, ttl time.Duration) *CredentialCache {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	slog.Debug("Creating CredentialCache", "token_ttl", ttl)
	return &CredentialCache{store: st, login: login, tokenTTL: ttl}
}

// GetToken returns a cached, unexpired token for the operator, or performs a
// login call and caches the result.
func (c *CredentialCache) GetToken(ctx context.Context, operator string) (string, error) {
	session, err := c.store.GetAdminSession(operator)
	if err != nil {
		slog.Error("CredentialCache session lookup failed", "error", err, "operator", operator)
		return "", fmt.Errorf("failed to look up admin session: %w", err)
	}
	if session != nil && time.Since(session.CreatedAt) < c.tokenTTL {
		slog.Debug("CredentialCache cache hit", "operator", operator)
		return session.Token, nil
	}

	slog.Debug("CredentialCache cache miss, logging in", "operator", operator, "expired", session != nil)
	token, err := c.login(ctx)
	if err != nil {
		slog.Error("CredentialCache login failed", "error", err, "operator", operator)
		return "", fmt.Errorf("login failed: %w", err)
	}

	err = c.store.SaveAdminSession(models.AdminSession{
		Operator:  operator,
		Token:     token,
		CreatedAt: time.Now(),
	})
	if err != nil {
		// The token is still valid for this call even if caching failed.
		slog.Error("CredentialCache failed to persist session", "error", err, "operator", operator)
	}

	slog.Info("CredentialCache acquired new session", "operator", operator)
	return token, nil
}

// Invalidate drops the cached token for the operator. The next GetToken call
// performs a fresh login.
func (c *CredentialCache) Invalidate(operator string) error {
	slog.Debug("CredentialCache invalidating session", "operator", operator)
	if err := c.store.DeleteAdminSession(operator); err != nil {
		slog.Error("CredentialCache invalidate failed", "error", err, "operator", operator)
		return err
	}
	return nil
}
