package dpop

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

// Signer creates DPoP proofs with a P-256 key pair.
type Signer struct {
	keys *KeyPair
}

// NewSigner creates a new proof signer backed by the given key pair.
func NewSigner(keys *KeyPair) *Signer {
	return &Signer{keys: keys}
}

// proofOptions holds the optional claims of a single proof.
type proofOptions struct {
	nonce       string
	accessToken string
}

// ProofOption configures optional claims of a single proof.
type ProofOption func(*proofOptions)

// WithNonce sets the nonce claim to the server-issued freshness value.
func WithNonce(nonce string) ProofOption {
	return func(o *proofOptions) {
		o.nonce = nonce
	}
}

// WithAccessToken binds the proof to an access token by populating the ath
// claim with the token's SHA-256 hash.
func WithAccessToken(token string) ProofOption {
	return func(o *proofOptions) {
		o.accessToken = token
	}
}

// CreateProof creates a DPoP proof JWT for one HTTP request attempt.
//
// Every call mints a fresh jti and iat; a proof must never be reused across
// attempts. A retry after a nonce challenge therefore needs a brand-new
// proof carrying the new nonce, not a patched old one.
//
// Per RFC 9449 the proof contains:
//   - Header: typ="dpop+jwt", alg="ES256", jwk with the public key
//   - Claims: jti, htm (uppercase method), htu (normalized URI), iat,
//     plus nonce and ath when the corresponding options are set
//
// Returns a SigningError if the key material has been wiped, or an
// InvalidInputError if the URI cannot be parsed.
func (s *Signer) CreateProof(method, uri string, opts ...ProofOption) (string, error) {
	if s.keys == nil || s.keys.private == nil {
		return "", SigningError("private key unavailable")
	}

	var o proofOptions
	for _, opt := range opts {
		opt(&o)
	}

	normalizedURI, err := NormalizeURI(uri)
	if err != nil {
		return "", err
	}

	signerOpts := (&jose.SignerOptions{}).
		WithType(TypeDPoP).
		WithHeader("jwk", jose.JSONWebKey{Key: s.keys.Public()})

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: s.keys.private}, signerOpts)
	if err != nil {
		return "", SigningError(err.Error())
	}

	claims := Claims{
		JTI: uuid.NewString(),
		HTM: strings.ToUpper(method),
		HTU: normalizedURI,
		IAT: time.Now().Unix(),
	}
	claims.Nonce = o.nonce
	if o.accessToken != "" {
		claims.ATH = AccessTokenHash(o.accessToken)
	}

	proof, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", SigningError(err.Error())
	}

	return proof, nil
}

// Thumbprint returns the RFC 7638 thumbprint of the signer's public key.
// Returns "" after the key pair has been wiped.
func (s *Signer) Thumbprint() string {
	pub := s.keys.Public()
	if pub == nil {
		return ""
	}
	return Thumbprint(pub)
}

// AccessTokenHash computes the ath claim value for an access token:
// the base64url-encoded (unpadded) SHA-256 digest of the exact token string.
func AccessTokenHash(accessToken string) string {
	hash := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// NormalizeURI normalizes a URI per RFC 9449 Section 4.2:
//   - Lowercase scheme and host
//   - Keep path exactly as-is
//   - Remove query string and fragment
//   - Remove default port (443 for https, 80 for http)
//
// Returns an InvalidInputError if the URI is empty or missing scheme/host.
func NormalizeURI(rawURI string) (string, error) {
	if rawURI == "" {
		return "", InvalidInputError("URL cannot be empty")
	}

	parsed, err := url.Parse(rawURI)
	if err != nil {
		return "", InvalidInputError(err.Error())
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", InvalidInputError("URL must have scheme and host")
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())

	port := parsed.Port()
	if port != "" {
		isDefaultPort := (scheme == "https" && port == "443") || (scheme == "http" && port == "80")
		if !isDefaultPort {
			host = host + ":" + port
		}
	}

	path := parsed.Path
	if path == "" {
		path = "/"
	}

	return scheme + "://" + host + path, nil
}

// ParseProof parses a DPoP proof JWT and returns its raw components.
// No signature verification is performed; this is for inspection and tests.
func ParseProof(proof string) (header, payload map[string]any, signature []byte, err error) {
	parts := strings.Split(proof, ".")
	if len(parts) != 3 {
		return nil, nil, nil, fmt.Errorf("invalid JWT: expected 3 parts, got %d", len(parts))
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode header: %w", err)
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, nil, nil, fmt.Errorf("unmarshal header: %w", err)
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, nil, nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	signature, err = base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode signature: %w", err)
	}

	return header, payload, signature, nil
}

// DecodeClaims decodes the claims segment of a proof without verifying the
// signature.
func DecodeClaims(proof string) (*Claims, error) {
	parts := strings.Split(proof, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid JWT: expected 3 parts, got %d", len(parts))
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	var claims Claims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	return &claims, nil
}

// VerifyProof verifies a DPoP proof signature using the provided public key.
// The signature covers the exact header.claims bytes of the compact form;
// any mutation of either segment invalidates it.
func VerifyProof(proof string, publicKey *ecdsa.PublicKey) bool {
	parts := strings.Split(proof, ".")
	if len(parts) != 3 {
		return false
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || len(signature) != 2*coordinateSize {
		return false
	}

	// JOSE ES256 signatures are the fixed-width r || s concatenation,
	// not ASN.1 DER.
	r := new(big.Int).SetBytes(signature[:coordinateSize])
	s := new(big.Int).SetBytes(signature[coordinateSize:])

	digest := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	return ecdsa.Verify(publicKey, digest[:], r, s)
}
