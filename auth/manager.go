package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/chylli-deriv/supabase-logger/config"
	"github.com/chylli-deriv/supabase-logger/internal/logger"
)

// Config holds settings for the token manager.
type Config struct {
	DefaultTTL      time.Duration
	ExpiryBuffer    time.Duration
	InitialBackoff  time.Duration
	RenewTimeout    time.Duration
	MaxAuthAttempts int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:      config.DefaultTokenTTL,
		ExpiryBuffer:    config.DefaultExpiryBuffer,
		InitialBackoff:  500 * time.Millisecond,
		RenewTimeout:    2 * time.Minute,
		MaxAuthAttempts: 3,
	}
}

// Stats counts token manager activity since construction. Grants count
// renewals, not HTTP attempts: a password grant retried three times is one.
type Stats struct {
	PasswordGrants int64
	RefreshGrants  int64
	CacheHits      int64
	Failures       int64
}

// Manager owns one cached session token for a credential set and renews it
// on demand. A process should share a single Manager across all loggers
// using the same credentials.
type Manager struct {
	creds      config.Credentials
	httpClient *http.Client
	token      *Token
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	group      singleflight.Group
	config     Config
	mu         sync.RWMutex

	passwordGrants atomic.Int64
	refreshGrants  atomic.Int64
	cacheHits      atomic.Int64
	failures       atomic.Int64
}

// NewManager creates a token manager. A nil client gets a 30 second timeout.
func NewManager(creds config.Credentials, client *http.Client, cfg Config) *Manager {
	defaults := DefaultConfig()
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaults.DefaultTTL
	}
	if cfg.ExpiryBuffer < 0 {
		cfg.ExpiryBuffer = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.RenewTimeout <= 0 {
		cfg.RenewTimeout = defaults.RenewTimeout
	}
	if cfg.MaxAuthAttempts < 1 {
		cfg.MaxAuthAttempts = defaults.MaxAuthAttempts
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Manager{
		creds:      creds,
		httpClient: client,
		config:     cfg,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// NewManagerFromConfig creates a token manager from the resolved client
// configuration.
func NewManagerFromConfig(cfg *config.Config, client *http.Client) *Manager {
	mcfg := DefaultConfig()
	mcfg.DefaultTTL = cfg.TokenTTL
	mcfg.ExpiryBuffer = cfg.ExpiryBuffer
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return NewManager(cfg.Credentials, client, mcfg)
}

// Token returns a valid access token, authenticating first when nothing is
// cached or the cached token is about to expire. Concurrent callers share
// a single in-flight renewal.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.RLock()
	cached := m.token
	m.mu.RUnlock()

	if cached.IsValid(m.now(), m.config.ExpiryBuffer) {
		m.cacheHits.Add(1)
		return cached.AccessToken, nil
	}

	// The renewal is shared, so it runs detached from any one caller's
	// context. Each caller still stops waiting when its own ctx is done.
	ch := m.group.DoChan("token", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.RenewTimeout)
		defer cancel()

		m.mu.RLock()
		current := m.token
		m.mu.RUnlock()

		// Another caller may have renewed while we waited for the group.
		if current.IsValid(m.now(), m.config.ExpiryBuffer) {
			return current.AccessToken, nil
		}

		tok, err := m.renew(rctx, current)
		if err != nil {
			m.failures.Add(1)
			return "", err
		}

		m.mu.Lock()
		m.token = tok
		m.mu.Unlock()
		return tok.AccessToken, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	case <-ctx.Done():
		return "", &AuthenticationError{Err: ctx.Err()}
	}
}

// Invalidate marks the cached token expired if it is still stale. A token
// renewed by someone else since stale was handed out is left alone.
func (m *Manager) Invalidate(stale string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == nil || m.token.AccessToken != stale {
		return
	}
	m.token = &Token{RefreshToken: m.token.RefreshToken}
	logger.Debug("cached supabase token invalidated")
}

// ExpiresAt returns the expiry of the cached token, or the zero time.
func (m *Manager) ExpiresAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == nil {
		return time.Time{}
	}
	return m.token.ExpiresAt
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	return Stats{
		PasswordGrants: m.passwordGrants.Load(),
		RefreshGrants:  m.refreshGrants.Load(),
		CacheHits:      m.cacheHits.Load(),
		Failures:       m.failures.Load(),
	}
}

// renew tries the refresh token first and falls back to a full password
// login.
func (m *Manager) renew(ctx context.Context, current *Token) (*Token, error) {
	if current != nil && current.RefreshToken != "" {
		m.refreshGrants.Add(1)
		resp, err := RefreshGrant(ctx, m.httpClient, m.creds.BaseURL, m.creds.APIKey, current.RefreshToken)
		if err == nil {
			logger.Info("refreshed supabase token")
			return m.toToken(resp), nil
		}
		logger.Warn("token refresh failed, falling back to password login", "error", err)
	}

	resp, err := m.authenticate(ctx)
	if err != nil {
		logger.Error("supabase authentication failed", "error", err)
		return nil, err
	}
	logger.Info("authenticated with supabase")
	return m.toToken(resp), nil
}

// authenticate runs the password grant with exponential backoff. Rejected
// credentials are not retried.
func (m *Manager) authenticate(ctx context.Context) (*TokenResponse, error) {
	var resp *TokenResponse
	var err error

	m.passwordGrants.Add(1)
	backoff := m.config.InitialBackoff
	for i := 0; i < m.config.MaxAuthAttempts; i++ {
		resp, err = PasswordGrant(ctx, m.httpClient, m.creds.BaseURL, m.creds.APIKey, m.creds.AuthEmail, m.creds.AuthPassword)
		if err == nil || !retryableAuthError(err) {
			break
		}

		if i < m.config.MaxAuthAttempts-1 {
			if waitErr := m.sleep(ctx, backoff); waitErr != nil {
				return nil, &AuthenticationError{Err: waitErr}
			}
			backoff *= 2
		}
	}
	return resp, err
}

func (m *Manager) toToken(resp *TokenResponse) *Token {
	now := m.now()
	return &Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    resp.expiry(now, m.config.DefaultTTL),
	}
}

func retryableAuthError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		return false
	}
	return authErr.StatusCode == 0 || authErr.StatusCode >= http.StatusInternalServerError
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
