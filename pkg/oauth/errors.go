package oauth

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated indicates a token was requested before any successful
// Authenticate call, or after the lifecycle entered the failed state.
var ErrNotAuthenticated = errors.New("not authenticated")

// TransportError wraps a network-level failure reaching the token endpoint.
// These are retriable at the caller's discretion; no lifecycle state was
// mutated when one is returned.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AuthServerError indicates the authorization server rejected a request
// without a nonce challenge (or after the single permitted nonce retry).
// Body holds an excerpt of the response body for diagnosis.
type AuthServerError struct {
	Status int
	Body   string
}

func (e *AuthServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("auth server rejected request: HTTP %d", e.Status)
	}
	return fmt.Sprintf("auth server rejected request: HTTP %d: %s", e.Status, e.Body)
}
