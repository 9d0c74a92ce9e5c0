package dpop

import (
	"net/url"
	"strings"
	"sync"
)

// NonceTracker stores the most recent DPoP-Nonce observed per target origin.
//
// Values are overwritten unconditionally: servers only honor the nonce they
// issued most recently, so last-write-wins is the correct discipline even
// across concurrent in-flight requests. Entries live for the process
// lifetime; there is no eviction.
//
// Safe for concurrent use.
type NonceTracker struct {
	mu     sync.RWMutex
	nonces map[string]string
}

// NewNonceTracker creates an empty nonce tracker.
func NewNonceTracker() *NonceTracker {
	return &NonceTracker{nonces: make(map[string]string)}
}

// Observe records the latest nonce for an origin, replacing any prior value.
// Empty nonces are ignored.
func (t *NonceTracker) Observe(origin, nonce string) {
	if nonce == "" {
		return
	}
	t.mu.Lock()
	t.nonces[origin] = nonce
	t.mu.Unlock()
}

// Current returns the latest nonce seen for an origin, or ("", false) if the
// origin has never issued one.
func (t *NonceTracker) Current(origin string) (string, bool) {
	t.mu.RLock()
	nonce, ok := t.nonces[origin]
	t.mu.RUnlock()
	return nonce, ok
}

// OriginKey derives the tracker key for a request URI: the lowercased
// scheme://host[:port] of the target. Keying nonces by origin keeps a nonce
// issued by one server from leaking into proofs sent to another.
func OriginKey(rawURI string) (string, error) {
	parsed, err := url.Parse(rawURI)
	if err != nil {
		return "", InvalidInputError(err.Error())
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", InvalidInputError("URL must have scheme and host")
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), nil
}
