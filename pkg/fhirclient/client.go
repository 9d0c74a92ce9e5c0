package fhirclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nithinmohantk/fhir-security/pkg/dpop"
	"github.com/nithinmohantk/fhir-security/pkg/oauth"
)

// maxErrorBodyExcerpt caps the response body excerpt carried in errors.
const maxErrorBodyExcerpt = 256

// TokenSource supplies a currently valid DPoP-bound access token.
// *oauth.Lifecycle implements it.
type TokenSource interface {
	EnsureValid(ctx context.Context) (string, error)
}

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client is an HTTP client that adds DPoP authentication to every request.
type Client struct {
	httpClient Doer
	signer     *dpop.Signer
	tokens     TokenSource
	nonces     *dpop.NonceTracker
	baseURL    string
	origin     string
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP transport.
func WithHTTPClient(doer Doer) ClientOption {
	return func(c *Client) {
		c.httpClient = doer
	}
}

// WithNonceTracker shares a nonce tracker with other components. Pass the
// same tracker the token lifecycle uses so nonces learned on either surface
// benefit both.
func WithNonceTracker(nonces *dpop.NonceTracker) ClientOption {
	return func(c *Client) {
		c.nonces = nonces
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a DPoP-bound HTTP client for the resource server at
// baseURL. A fresh proof is generated for every request attempt.
func NewClient(baseURL string, signer *dpop.Signer, tokens TokenSource, opts ...ClientOption) (*Client, error) {
	origin, err := dpop.OriginKey(baseURL)
	if err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, dpop.InvalidInputError("proof signer is required")
	}
	if tokens == nil {
		return nil, dpop.InvalidInputError("token source is required")
	}

	c := &Client{
		httpClient: http.DefaultClient,
		signer:     signer,
		tokens:     tokens,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		origin:     origin,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.nonces == nil {
		c.nonces = dpop.NewNonceTracker()
	}

	return c, nil
}

// Do sends an authenticated request to baseURL+path.
//
// The access token is obtained (refreshing if necessary) from the token
// source, a fresh proof binds the token via its ath claim, and the token
// travels in a DPoP-scheme Authorization header. A returned DPoP-Nonce is
// always recorded, whatever the status code.
//
// Non-success statuses are returned to the caller undisturbed, with one
// exception: a nonce challenge (non-success status plus a fresh DPoP-Nonce
// header) triggers exactly one transparent retry with a new proof carrying
// the learned nonce. A second consecutive challenge is surfaced as an
// *oauth.AuthServerError, never retried again.
func (c *Client) Do(ctx context.Context, method, path string, contentType string, body []byte) (*http.Response, error) {
	token, err := c.tokens.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}

	uri := c.baseURL + path

	for attempt := 0; attempt < 2; attempt++ {
		opts := []dpop.ProofOption{dpop.WithAccessToken(token)}
		if nonce, ok := c.nonces.Current(c.origin); ok {
			opts = append(opts, dpop.WithNonce(nonce))
		}

		proof, err := c.signer.CreateProof(method, uri, opts...)
		if err != nil {
			return nil, err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, uri, reader)
		if err != nil {
			return nil, dpop.InvalidInputError(err.Error())
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set(dpop.HeaderDPoP, proof)
		req.Header.Set("Authorization", "DPoP "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &oauth.TransportError{Err: err}
		}

		challenged := false
		if nonce := resp.Header.Get(dpop.HeaderNonce); nonce != "" {
			c.nonces.Observe(c.origin, nonce)
			challenged = true
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		if challenged && attempt == 0 {
			c.logger.Debug("dpop.nonce_challenge",
				"method", method,
				"path", path,
				"status", resp.StatusCode,
			)
			drain(resp)
			continue
		}

		if challenged {
			// Second consecutive challenge: stop, never loop.
			excerpt := readExcerpt(resp)
			return nil, &oauth.AuthServerError{Status: resp.StatusCode, Body: excerpt}
		}

		// Generic non-success: the caller decides what it means.
		return resp, nil
	}

	// Unreachable: the loop always returns.
	return nil, fmt.Errorf("request not sent")
}

// Get performs an authenticated GET.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, "", nil)
}

// Post performs an authenticated POST.
func (c *Client) Post(ctx context.Context, path, contentType string, body []byte) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, path, contentType, body)
}

// PostJSON performs an authenticated POST with a JSON body.
func (c *Client) PostJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return c.Post(ctx, path, "application/json", data)
}

// Put performs an authenticated PUT.
func (c *Client) Put(ctx context.Context, path, contentType string, body []byte) (*http.Response, error) {
	return c.Do(ctx, http.MethodPut, path, contentType, body)
}

// Delete performs an authenticated DELETE.
func (c *Client) Delete(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodDelete, path, "", nil)
}

// drain discards and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))
	resp.Body.Close()
}

// readExcerpt reads a bounded excerpt of the body and closes it.
func readExcerpt(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyExcerpt+1))
	resp.Body.Close()
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBodyExcerpt {
		s = s[:maxErrorBodyExcerpt] + "..."
	}
	return s
}
