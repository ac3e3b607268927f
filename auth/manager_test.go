package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chylli-deriv/supabase-logger/config"
)

var testCreds = config.Credentials{
	BaseURL:      "https://test-url.supabase.co",
	APIKey:       "test-api-key",
	AuthEmail:    "test@example.com",
	AuthPassword: "test-password",
	Environment:  "test",
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// authServer counts token requests per grant type.
type authServer struct {
	password atomic.Int32
	refresh  atomic.Int32
	handler  func(grant string, n int32) *http.Response
}

func (s *authServer) RoundTrip(req *http.Request) (*http.Response, error) {
	grant := req.URL.Query().Get("grant_type")
	var n int32
	switch grant {
	case "password":
		n = s.password.Add(1)
	case "refresh_token":
		n = s.refresh.Add(1)
	}
	return s.handler(grant, n), nil
}

func newTestManager(t *testing.T, srv *authServer) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m := NewManager(testCreds, &http.Client{Transport: srv}, DefaultConfig())
	m.now = clock.Now
	m.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return m, clock
}

func TestManager_CachesToken(t *testing.T) {
	srv := &authServer{handler: func(grant string, n int32) *http.Response {
		return jsonResponse(200, TokenResponse{AccessToken: "test-access-token", RefreshToken: "r", ExpiresIn: 3600})
	}}
	m, _ := newTestManager(t, srv)

	token, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "test-access-token" {
		t.Errorf("token = %q", token)
	}
	if got := srv.password.Load(); got != 1 {
		t.Fatalf("expected 1 auth request, got %d", got)
	}

	if _, err := m.Token(context.Background()); err != nil {
		t.Fatalf("Token() cached error = %v", err)
	}
	if got := srv.password.Load() + srv.refresh.Load(); got != 1 {
		t.Errorf("cache hit should not call the auth endpoint, got %d requests", got)
	}

	stats := m.Stats()
	if stats.PasswordGrants != 1 || stats.CacheHits != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestManager_RenewsAfterExpiry(t *testing.T) {
	srv := &authServer{handler: func(grant string, n int32) *http.Response {
		if grant == "refresh_token" {
			return jsonResponse(200, TokenResponse{AccessToken: "refreshed", RefreshToken: "r2", ExpiresIn: 3600})
		}
		return jsonResponse(200, TokenResponse{AccessToken: "first", RefreshToken: "r1", ExpiresIn: 3600})
	}}
	m, clock := newTestManager(t, srv)

	if _, err := m.Token(context.Background()); err != nil {
		t.Fatal(err)
	}

	clock.Advance(time.Hour)

	token, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() after expiry error = %v", err)
	}
	if token != "refreshed" {
		t.Errorf("token = %q, want refreshed", token)
	}
	if total := srv.password.Load() + srv.refresh.Load(); total != 2 {
		t.Errorf("expected exactly one extra auth request after expiry, got %d total", total)
	}
}

func TestManager_RenewsWithinBuffer(t *testing.T) {
	srv := &authServer{handler: func(grant string, n int32) *http.Response {
		return jsonResponse(200, TokenResponse{AccessToken: "tok", ExpiresIn: 3600})
	}}
	m, clock := newTestManager(t, srv)

	if _, err := m.Token(context.Background()); err != nil {
		t.Fatal(err)
	}

	// 30s before expiry is inside the default 60s buffer.
	clock.Advance(time.Hour - 30*time.Second)

	if _, err := m.Token(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := srv.password.Load(); got != 2 {
		t.Errorf("expected re-authentication inside the expiry buffer, got %d requests", got)
	}
}

func TestManager_RefreshFailureFallsBackToPassword(t *testing.T) {
	srv := &authServer{handler: func(grant string, n int32) *http.Response {
		if grant == "refresh_token" {
			return &http.Response{StatusCode: 400, Body: io.NopCloser(strings.NewReader("revoked"))}
		}
		return jsonResponse(200, TokenResponse{AccessToken: "pw", RefreshToken: "r", ExpiresIn: 3600})
	}}
	m, clock := newTestManager(t, srv)

	if _, err := m.Token(context.Background()); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Hour)

	token, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "pw" {
		t.Errorf("token = %q", token)
	}
	if srv.refresh.Load() != 1 || srv.password.Load() != 2 {
		t.Errorf("refresh=%d password=%d", srv.refresh.Load(), srv.password.Load())
	}
}

func TestManager_RetriesTransientAuthFailures(t *testing.T) {
	srv := &authServer{handler: func(grant string, n int32) *http.Response {
		if n < 3 {
			return &http.Response{StatusCode: 503, Body: io.NopCloser(strings.NewReader("unavailable"))}
		}
		return jsonResponse(200, TokenResponse{AccessToken: "tok", ExpiresIn: 3600})
	}}
	m, _ := newTestManager(t, srv)

	var delays []time.Duration
	m.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	token, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "tok" {
		t.Errorf("token = %q", token)
	}
	if got := srv.password.Load(); got != 3 {
		t.Errorf("expected 3 password grants, got %d", got)
	}
	if len(delays) != 2 || delays[1] <= delays[0] {
		t.Errorf("expected two increasing delays, got %v", delays)
	}
	if got := m.Stats().PasswordGrants; got != 1 {
		t.Errorf("PasswordGrants = %d, want 1 for one retried grant", got)
	}
}

func TestManager_RejectedCredentialsNotRetried(t *testing.T) {
	srv := &authServer{handler: func(grant string, n int32) *http.Response {
		return &http.Response{StatusCode: 400, Body: io.NopCloser(strings.NewReader(`{"error":"invalid_grant"}`))}
	}}
	m, _ := newTestManager(t, srv)

	_, err := m.Token(context.Background())
	if err == nil {
		t.Fatal("expected authentication error")
	}

	var authErr *AuthenticationError
	if !errors.As(err, &authErr) || !authErr.Rejected() {
		t.Fatalf("expected rejected AuthenticationError, got %v", err)
	}
	if got := srv.password.Load(); got != 1 {
		t.Errorf("rejected credentials should not be retried, got %d requests", got)
	}
	if m.Stats().Failures != 1 {
		t.Errorf("Failures = %d, want 1", m.Stats().Failures)
	}
}

func TestManager_Invalidate(t *testing.T) {
	srv := &authServer{handler: func(grant string, n int32) *http.Response {
		if grant == "refresh_token" {
			return jsonResponse(200, TokenResponse{AccessToken: "second", RefreshToken: "r2", ExpiresIn: 3600})
		}
		return jsonResponse(200, TokenResponse{AccessToken: "first", RefreshToken: "r1", ExpiresIn: 3600})
	}}
	m, _ := newTestManager(t, srv)

	first, _ := m.Token(context.Background())

	// A token that is not the cached one is ignored.
	m.Invalidate("someone-else")
	if tok, _ := m.Token(context.Background()); tok != first {
		t.Fatalf("unrelated invalidation replaced the token: %q", tok)
	}

	m.Invalidate(first)
	second, err := m.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if second != "second" {
		t.Errorf("token after invalidation = %q, want second", second)
	}
	if srv.refresh.Load() != 1 {
		t.Errorf("expected invalidation to trigger one refresh, got %d", srv.refresh.Load())
	}

	// Invalidating the old token again must not drop the new one.
	m.Invalidate(first)
	if tok, _ := m.Token(context.Background()); tok != "second" {
		t.Errorf("stale invalidation dropped the new token: %q", tok)
	}
}

func TestManager_ConcurrentCallersShareRenewal(t *testing.T) {
	release := make(chan struct{})
	srv := &authServer{handler: func(grant string, n int32) *http.Response {
		<-release
		return jsonResponse(200, TokenResponse{AccessToken: "shared", ExpiresIn: 3600})
	}}
	m, _ := newTestManager(t, srv)

	const callers = 10
	var wg sync.WaitGroup
	var started sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)

	started.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			tokens[i], errs[i] = m.Token(context.Background())
		}(i)
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error: %v", i, errs[i])
		}
		if tokens[i] != "shared" {
			t.Errorf("caller %d token = %q", i, tokens[i])
		}
	}
	if got := srv.password.Load(); got != 1 {
		t.Errorf("expected a single in-flight authentication, got %d", got)
	}
}

// blockingTransport holds every token request until release is closed or
// the request context ends.
type blockingTransport struct {
	arrived chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if b.calls.Add(1) == 1 {
		close(b.arrived)
	}
	select {
	case <-b.release:
		return jsonResponse(200, TokenResponse{AccessToken: "shared", ExpiresIn: 3600}), nil
	case <-req.Context().Done():
		return nil, req.Context().Err()
	}
}

func TestManager_CancelledCallerDoesNotFailSharedRenewal(t *testing.T) {
	tr := &blockingTransport{arrived: make(chan struct{}), release: make(chan struct{})}
	m := NewManager(testCreds, &http.Client{Transport: tr}, DefaultConfig())
	m.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := m.Token(ctxA)
		errA <- err
	}()
	<-tr.arrived

	type result struct {
		token string
		err   error
	}
	resB := make(chan result, 1)
	go func() {
		tok, err := m.Token(context.Background())
		resB <- result{tok, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled caller error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting for the shared renewal")
	}

	close(tr.release)
	select {
	case r := <-resB:
		if r.err != nil {
			t.Fatalf("healthy caller error = %v", r.err)
		}
		if r.token != "shared" {
			t.Errorf("healthy caller token = %q", r.token)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("healthy caller never got a token")
	}

	if got := tr.calls.Load(); got != 1 {
		t.Errorf("expected one token request, got %d", got)
	}
	if tok, err := m.Token(context.Background()); err != nil || tok != "shared" {
		t.Errorf("renewed token was not cached: %q, %v", tok, err)
	}
}

func TestManager_ExpiresAt(t *testing.T) {
	srv := &authServer{handler: func(grant string, n int32) *http.Response {
		return jsonResponse(200, TokenResponse{AccessToken: "tok", ExpiresIn: 600})
	}}
	m, clock := newTestManager(t, srv)

	if !m.ExpiresAt().IsZero() {
		t.Error("ExpiresAt should be zero before authentication")
	}
	start := clock.Now()
	if _, err := m.Token(context.Background()); err != nil {
		t.Fatal(err)
	}
	if want := start.Add(10 * time.Minute); !m.ExpiresAt().Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", m.ExpiresAt(), want)
	}
}

func TestNewManagerFromConfig(t *testing.T) {
	cfg := &config.Config{
		Credentials:    testCreds,
		TokenTTL:       10 * time.Minute,
		ExpiryBuffer:   5 * time.Second,
		RequestTimeout: 3 * time.Second,
	}
	m := NewManagerFromConfig(cfg, nil)

	if m.config.DefaultTTL != 10*time.Minute || m.config.ExpiryBuffer != 5*time.Second {
		t.Errorf("unexpected config: %+v", m.config)
	}
	if m.httpClient.Timeout != 3*time.Second {
		t.Errorf("client timeout = %v", m.httpClient.Timeout)
	}
}
