package mockhttp

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/nithinmohantk/fhir-security/pkg/dpop"
)

// Handler handles a request and reports whether it did.
type Handler func(w http.ResponseWriter, r *http.Request) bool

// ServerBuilder builds mock HTTP servers with configurable behavior.
type ServerBuilder struct {
	handlers    []Handler
	defaultCode int
	capture     *Capture
}

// New creates a new ServerBuilder.
func New() *ServerBuilder {
	return &ServerBuilder{defaultCode: http.StatusNotFound}
}

// Handler adds a custom handler.
func (b *ServerBuilder) Handler(h Handler) *ServerBuilder {
	b.handlers = append(b.handlers, h)
	return b
}

// JSON returns a 200 JSON response for requests matching path.
func (b *ServerBuilder) JSON(path string, response any) *ServerBuilder {
	return b.JSONWithStatus(path, http.StatusOK, response)
}

// JSONWithStatus returns a JSON response with a specific status code.
func (b *ServerBuilder) JSONWithStatus(path string, code int, response any) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if !matchPath(r.URL.Path, path) {
			return false
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(response)
		return true
	})
}

// Status returns an empty response with the given status code.
func (b *ServerBuilder) Status(path string, code int) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if !matchPath(r.URL.Path, path) {
			return false
		}
		w.WriteHeader(code)
		return true
	})
}

// Response describes one scripted response for Sequence.
type Response struct {
	Status int
	// Nonce, when set, is sent as the DPoP-Nonce response header.
	Nonce string
	// JSON, when non-nil, is encoded as the response body.
	JSON any
	// Body, when JSON is nil, is written verbatim.
	Body string
}

func (resp Response) write(w http.ResponseWriter) {
	if resp.Nonce != "" {
		w.Header().Set(dpop.HeaderNonce, resp.Nonce)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if resp.JSON != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp.JSON)
		return
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		io.WriteString(w, resp.Body)
	}
}

// Sequence plays one scripted response per request to path, in order.
// Requests past the end of the script repeat the final response.
func (b *ServerBuilder) Sequence(path string, responses ...Response) *ServerBuilder {
	var mu sync.Mutex
	next := 0
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if !matchPath(r.URL.Path, path) {
			return false
		}
		mu.Lock()
		i := next
		if next < len(responses)-1 {
			next++
		}
		mu.Unlock()
		responses[i].write(w)
		return true
	})
}

// NonceGate enforces the RFC 9449 nonce handshake on path: any request whose
// DPoP proof does not echo nonce is rejected with the given status and a
// DPoP-Nonce header. Requests carrying the nonce fall through to later
// handlers. A server that should never be satisfied can gate on a nonce it
// keeps rotating; here the nonce is fixed, so exactly one retry succeeds.
func (b *ServerBuilder) NonceGate(path, nonce string, status int) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if !matchPath(r.URL.Path, path) {
			return false
		}
		claims, err := dpop.DecodeClaims(r.Header.Get(dpop.HeaderDPoP))
		if err == nil && claims.Nonce == nonce {
			return false
		}
		w.Header().Set(dpop.HeaderNonce, nonce)
		w.WriteHeader(status)
		return true
	})
}

// RequireDPoP rejects any request without a parseable DPoP proof header.
func (b *ServerBuilder) RequireDPoP() *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if _, err := dpop.DecodeClaims(r.Header.Get(dpop.HeaderDPoP)); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return true
		}
		return false
	})
}

// Route adds a handler matching method and path.
func (b *ServerBuilder) Route(method, path string, handler http.HandlerFunc) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method != method || !matchPath(r.URL.Path, path) {
			return false
		}
		handler(w, r)
		return true
	})
}

// Capture enables request capture for inspection in tests.
// Must be called before Build; the capturing handler runs first.
func (b *ServerBuilder) Capture() *Capture {
	if b.capture == nil {
		b.capture = &Capture{}
		b.handlers = append([]Handler{func(w http.ResponseWriter, r *http.Request) bool {
			b.capture.record(r)
			return false
		}}, b.handlers...)
	}
	return b.capture
}

// Build creates the httptest.Server with all configured handlers.
func (b *ServerBuilder) Build() (*httptest.Server, *http.Client) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range b.handlers {
			if h(w, r) {
				return
			}
		}
		w.WriteHeader(b.defaultCode)
	})

	server := httptest.NewServer(handler)
	return server, server.Client()
}

// matchPath supports exact match and prefix match with a "*" suffix.
func matchPath(requestPath, pattern string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(requestPath, strings.TrimSuffix(pattern, "*"))
	}
	return requestPath == pattern
}

// Capture stores captured HTTP requests for test assertions.
type Capture struct {
	mu       sync.Mutex
	requests []CapturedRequest
}

// CapturedRequest holds data from a captured HTTP request.
type CapturedRequest struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
}

func (c *Capture) record(r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(strings.NewReader(string(body)))
	}

	c.requests = append(c.requests, CapturedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: r.Header.Clone(),
		Body:    body,
	})
}

// Count returns the number of captured requests.
func (c *Capture) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// CountPath returns how many captured requests targeted path.
func (c *Capture) CountPath(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

// Last returns the most recent captured request, or nil if none.
func (c *Capture) Last() *CapturedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return nil
	}
	return &c.requests[len(c.requests)-1]
}

// Get returns the request at index i, or nil if out of bounds.
func (c *Capture) Get(i int) *CapturedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.requests) {
		return nil
	}
	return &c.requests[i]
}

// Proof decodes the DPoP proof claims of a captured request.
// Returns nil if the request carried no parseable proof.
func (r *CapturedRequest) Proof() *dpop.Claims {
	claims, err := dpop.DecodeClaims(r.Headers.Get(dpop.HeaderDPoP))
	if err != nil {
		return nil
	}
	return claims
}
