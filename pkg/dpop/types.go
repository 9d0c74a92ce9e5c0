package dpop

// Type and algorithm constants. The algorithm is fixed at ES256; other
// algorithms are not permitted for proofs produced by this client.
const (
	// TypeDPoP is the required typ header value for DPoP proofs.
	TypeDPoP = "dpop+jwt"

	// AlgES256 is the only permitted algorithm for DPoP proofs.
	AlgES256 = "ES256"

	// HeaderDPoP is the request header carrying the proof JWT.
	HeaderDPoP = "DPoP"

	// HeaderNonce is the response header carrying a server freshness value.
	HeaderNonce = "DPoP-Nonce"
)

// Header contains the JOSE header claims for a DPoP proof JWT.
// Per RFC 9449, the header must contain typ, alg, and the public jwk.
type Header struct {
	// Typ must be "dpop+jwt" (required)
	Typ string `json:"typ"`

	// Alg must be "ES256" for P-256 signatures (required)
	Alg string `json:"alg"`

	// JWK is the public key the proof signature verifies against (required)
	JWK *JWK `json:"jwk"`
}

// Claims contains the payload claims for a DPoP proof JWT.
// These claims bind the proof to one HTTP request attempt.
type Claims struct {
	// JTI is a unique token identifier (UUID) for replay prevention (required)
	JTI string `json:"jti"`

	// HTM is the uppercase HTTP method of the request (required)
	HTM string `json:"htm"`

	// HTU is the HTTP URI of the request, normalized (scheme + host + path) (required)
	HTU string `json:"htu"`

	// IAT is the issued-at timestamp in Unix seconds (required)
	IAT int64 `json:"iat"`

	// Nonce echoes the most recent DPoP-Nonce the server issued, if any.
	Nonce string `json:"nonce,omitempty"`

	// ATH is the base64url-encoded SHA-256 hash of the access token the
	// proof accompanies. Present only on token-bound resource requests.
	ATH string `json:"ath,omitempty"`
}

// JWK represents a JSON Web Key containing a P-256 public key.
// This is embedded in every proof header to convey the public key.
type JWK struct {
	// Kty must be "EC" (Elliptic Curve) for P-256 keys
	Kty string `json:"kty"`

	// Crv must be "P-256"
	Crv string `json:"crv"`

	// X is the base64url-encoded (unpadded) X coordinate, 32 bytes
	X string `json:"x"`

	// Y is the base64url-encoded (unpadded) Y coordinate, 32 bytes
	Y string `json:"y"`
}
