// Package auth obtains and caches Supabase access tokens.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chylli-deriv/supabase-logger/internal/logger"
	"github.com/chylli-deriv/supabase-logger/internal/version"
)

const tokenPath = "/auth/v1/token"

// TokenResponse is the body returned by the Supabase token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

// Token is a cached access token with its absolute expiry.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// IsValid reports whether the token can still be used at now, keeping
// buffer in reserve before the recorded expiry.
func (t *Token) IsValid(now time.Time, buffer time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return now.Add(buffer).Before(t.ExpiresAt)
}

// expiry picks the token lifetime from the response, falling back to the
// JWT exp claim and finally to defaultTTL. The relative expires_in wins over
// the absolute expires_at so a skewed local clock does not matter.
func (r *TokenResponse) expiry(now time.Time, defaultTTL time.Duration) time.Time {
	if r.ExpiresIn > 0 {
		return now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	if r.ExpiresAt > 0 {
		return time.Unix(r.ExpiresAt, 0)
	}
	if exp, ok := jwtExpiry(r.AccessToken); ok {
		return exp
	}
	return now.Add(defaultTTL)
}

// jwtExpiry reads the exp claim without verifying the signature; the token
// came straight from the auth server over TLS.
func jwtExpiry(raw string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// PasswordGrant exchanges email and password for a token.
func PasswordGrant(ctx context.Context, client *http.Client, baseURL, apiKey, email, password string) (*TokenResponse, error) {
	if email == "" || password == "" {
		return nil, &AuthenticationError{Err: fmt.Errorf("email or password is empty")}
	}
	return requestToken(ctx, client, baseURL, apiKey, "password", map[string]string{
		"email":    email,
		"password": password,
	})
}

// RefreshGrant exchanges a refresh token for a new token.
func RefreshGrant(ctx context.Context, client *http.Client, baseURL, apiKey, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, &AuthenticationError{Err: fmt.Errorf("refresh token is empty")}
	}
	return requestToken(ctx, client, baseURL, apiKey, "refresh_token", map[string]string{
		"refresh_token": refreshToken,
	})
}

func requestToken(ctx context.Context, client *http.Client, baseURL, apiKey, grantType string, payload map[string]string) (*TokenResponse, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &AuthenticationError{Err: fmt.Errorf("failed to encode token request: %w", err)}
	}

	endpoint := strings.TrimRight(baseURL, "/") + tokenPath + "?grant_type=" + grantType
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, &AuthenticationError{Err: fmt.Errorf("failed to create token request: %w", err)}
	}
	req.Header.Set("apikey", apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return nil, &AuthenticationError{Err: fmt.Errorf("token request failed: %w", err)}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AuthenticationError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read token response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		logger.Debug("token endpoint rejected request", "grant_type", grantType, "status", resp.StatusCode, "body", string(respBody))
		return nil, &AuthenticationError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s grant failed (status %d)", grantType, resp.StatusCode),
		}
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(respBody, &tokenResp); err != nil {
		return nil, &AuthenticationError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse token response: %w", err)}
	}
	if tokenResp.AccessToken == "" {
		return nil, &AuthenticationError{StatusCode: resp.StatusCode, Err: fmt.Errorf("token response has no access_token")}
	}

	return &tokenResp, nil
}
