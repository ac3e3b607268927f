package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAuthentication matches every *AuthenticationError via errors.Is.
var ErrAuthentication = errors.New("supabase authentication failed")

// AuthenticationError means no token could be obtained this cycle. StatusCode
// is zero when the request never got a response.
type AuthenticationError struct {
	Err        error
	StatusCode int
}

func (e *AuthenticationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// Is reports whether target is ErrAuthentication.
func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthentication
}

// Rejected reports whether the auth server refused the credentials, as
// opposed to being unreachable or failing internally.
func (e *AuthenticationError) Rejected() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
		return true
	}
	return false
}
