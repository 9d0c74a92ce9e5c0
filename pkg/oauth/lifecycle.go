package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nithinmohantk/fhir-security/pkg/dpop"
)

const (
	// expiryMargin is subtracted from the server-reported token lifetime so
	// a token is never used when it could expire mid-flight.
	expiryMargin = 30 * time.Second

	// maxTokenResponseSize caps how much of a token endpoint response is read.
	maxTokenResponseSize = 64 * 1024

	// maxErrorBodyExcerpt caps the response body excerpt carried in errors.
	maxErrorBodyExcerpt = 256
)

// Doer sends a single HTTP request. *http.Client satisfies it; tests supply
// counting or failing implementations.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Config configures a Lifecycle.
type Config struct {
	// TokenURL is the authorization server's token endpoint (required).
	TokenURL string

	// ClientID identifies this client to the token endpoint (required).
	ClientID string

	// Signer creates the DPoP proofs that bind every exchange (required).
	Signer *dpop.Signer

	// Nonces tracks server-issued DPoP nonces. Optional; a private tracker
	// is created when nil. Share one tracker with the request signer so a
	// nonce learned on either surface benefits both.
	Nonces *dpop.NonceTracker

	// HTTPClient is the transport. Defaults to http.DefaultClient.
	HTTPClient Doer
}

// Lifecycle is the state machine governing acquisition, expiry tracking,
// and refresh of one DPoP-bound access token. Safe for concurrent use.
type Lifecycle struct {
	cfg    Config
	origin string
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	state        State
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	scope        string

	flight singleflight.Group
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lifecycle) {
		l.logger = logger
	}
}

// WithClock overrides the wall clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) {
		l.now = now
	}
}

// New creates a Lifecycle in the unauthenticated state.
func New(cfg Config, opts ...Option) (*Lifecycle, error) {
	if cfg.TokenURL == "" {
		return nil, dpop.InvalidInputError("token URL is required")
	}
	if cfg.ClientID == "" {
		return nil, dpop.InvalidInputError("client ID is required")
	}
	if cfg.Signer == nil {
		return nil, dpop.InvalidInputError("proof signer is required")
	}

	origin, err := dpop.OriginKey(cfg.TokenURL)
	if err != nil {
		return nil, err
	}

	if cfg.Nonces == nil {
		cfg.Nonces = dpop.NewNonceTracker()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	l := &Lifecycle{
		cfg:    cfg,
		origin: origin,
		logger: slog.Default(),
		now:    time.Now,
		state:  StateUnauthenticated,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// ExpiresAt returns when the cached token stops being usable. The margin
// is already subtracted. Zero before the first successful exchange.
func (l *Lifecycle) ExpiresAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expiresAt
}

// Authenticate performs the client-credentials grant and stores the
// resulting token state. Valid only from the unauthenticated or failed
// states; an authenticated lifecycle must use EnsureValid instead.
//
// A non-success token response carrying a fresh DPoP-Nonce is treated as a
// nonce challenge: the nonce is recorded and the request retried exactly
// once with a new proof. Any other rejection returns an *AuthServerError
// and moves the lifecycle to the failed state. Transport failures return a
// *TransportError and leave the state unchanged.
func (l *Lifecycle) Authenticate(ctx context.Context, scope string) (string, error) {
	l.mu.Lock()
	if l.state != StateUnauthenticated && l.state != StateFailed {
		state := l.state
		l.mu.Unlock()
		return "", fmt.Errorf("authenticate is not valid in state %q", state)
	}
	prev := l.state
	l.state = StateAuthenticating
	l.mu.Unlock()

	form := url.Values{
		"grant_type": {GrantClientCredentials},
		"client_id":  {l.cfg.ClientID},
	}
	if scope != "" {
		form.Set("scope", scope)
	}

	tok, err := l.exchange(ctx, form)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		var serverErr *AuthServerError
		if errors.As(err, &serverErr) {
			l.state = StateFailed
			l.accessToken = ""
			l.refreshToken = ""
		} else {
			l.state = prev
		}
		return "", err
	}

	l.storeLocked(tok, scope)
	l.logger.Info("token.authenticated",
		"client_id", l.cfg.ClientID,
		"scope", scope,
		"key", l.cfg.Signer.Thumbprint(),
		"expires_at", l.expiresAt,
	)
	return l.accessToken, nil
}

// EnsureValid returns a current access token, refreshing it first if the
// cached one has expired. An unexpired token is returned with no I/O.
//
// When a refresh is needed, concurrent callers coalesce into a single
// underlying token request; every waiter receives that request's result.
// Returns ErrNotAuthenticated before the first successful Authenticate and
// after the lifecycle has failed.
func (l *Lifecycle) EnsureValid(ctx context.Context) (string, error) {
	l.mu.Lock()
	switch l.state {
	case StateUnauthenticated, StateAuthenticating, StateFailed:
		l.mu.Unlock()
		return "", ErrNotAuthenticated
	}
	if l.state == StateAuthenticated && l.now().Before(l.expiresAt) {
		token := l.accessToken
		l.mu.Unlock()
		return token, nil
	}
	l.mu.Unlock()

	token, err, _ := l.flight.Do("token-refresh", func() (any, error) {
		return l.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// refresh runs under the singleflight slot. It re-checks validity first so
// waiters queued behind a completed refresh reuse its result instead of
// issuing another request.
func (l *Lifecycle) refresh(ctx context.Context) (string, error) {
	l.mu.Lock()
	if l.state == StateFailed {
		l.mu.Unlock()
		return "", ErrNotAuthenticated
	}
	if l.state == StateAuthenticated && l.now().Before(l.expiresAt) {
		token := l.accessToken
		l.mu.Unlock()
		return token, nil
	}
	prev := l.state
	refreshToken := l.refreshToken
	scope := l.scope
	l.state = StateRefreshing
	l.mu.Unlock()

	var form url.Values
	if refreshToken != "" {
		form = url.Values{
			"grant_type":    {GrantRefreshToken},
			"client_id":     {l.cfg.ClientID},
			"refresh_token": {refreshToken},
		}
		l.logger.Debug("token.refresh", "grant", GrantRefreshToken)
	} else {
		// No refresh token issued: re-run the full client-credentials flow.
		form = url.Values{
			"grant_type": {GrantClientCredentials},
			"client_id":  {l.cfg.ClientID},
		}
		if scope != "" {
			form.Set("scope", scope)
		}
		l.logger.Debug("token.refresh", "grant", GrantClientCredentials)
	}

	tok, err := l.exchange(ctx, form)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		var serverErr *AuthServerError
		if errors.As(err, &serverErr) {
			l.state = StateFailed
			l.accessToken = ""
			l.refreshToken = ""
		} else {
			l.state = prev
		}
		return "", err
	}

	l.storeLocked(tok, scope)
	return l.accessToken, nil
}

// storeLocked installs a successful token response. Caller holds l.mu.
func (l *Lifecycle) storeLocked(tok *tokenResponse, scope string) {
	l.accessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		l.refreshToken = tok.RefreshToken
	}
	l.expiresAt = l.now().Add(time.Duration(tok.ExpiresIn)*time.Second - expiryMargin)
	l.scope = scope
	l.state = StateAuthenticated
}

// exchange POSTs a form to the token endpoint with a fresh DPoP proof,
// handling at most one nonce challenge. No lifecycle state is touched here;
// only the nonce tracker is updated.
func (l *Lifecycle) exchange(ctx context.Context, form url.Values) (*tokenResponse, error) {
	for attempt := 0; attempt < 2; attempt++ {
		var opts []dpop.ProofOption
		if nonce, ok := l.cfg.Nonces.Current(l.origin); ok {
			opts = append(opts, dpop.WithNonce(nonce))
		}

		proof, err := l.cfg.Signer.CreateProof(http.MethodPost, l.cfg.TokenURL, opts...)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.TokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, dpop.InvalidInputError(err.Error())
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set(dpop.HeaderDPoP, proof)

		resp, err := l.cfg.HTTPClient.Do(req)
		if err != nil {
			return nil, &TransportError{Err: err}
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
		resp.Body.Close()

		challenged := false
		if nonce := resp.Header.Get(dpop.HeaderNonce); nonce != "" {
			l.cfg.Nonces.Observe(l.origin, nonce)
			challenged = true
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if readErr != nil {
				return nil, &TransportError{Err: readErr}
			}
			var tok tokenResponse
			if err := json.Unmarshal(body, &tok); err != nil {
				return nil, &AuthServerError{Status: resp.StatusCode, Body: "malformed token response"}
			}
			if tok.AccessToken == "" {
				return nil, &AuthServerError{Status: resp.StatusCode, Body: "token response missing access_token"}
			}
			return &tok, nil
		}

		if challenged && attempt == 0 {
			l.logger.Debug("token.nonce_challenge", "status", resp.StatusCode)
			continue
		}

		return nil, &AuthServerError{Status: resp.StatusCode, Body: bodyExcerpt(body)}
	}

	// Unreachable: the loop always returns.
	return nil, &AuthServerError{Status: 0}
}

// bodyExcerpt truncates a response body for inclusion in error messages.
func bodyExcerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBodyExcerpt {
		s = s[:maxErrorBodyExcerpt] + "..."
	}
	return s
}
