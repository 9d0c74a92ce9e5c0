package dpop

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
)

// coordinateSize is the byte length of a P-256 coordinate.
const coordinateSize = 32

// KeyPair holds the ephemeral P-256 key pair a client instance signs with.
// One key pair exists per client; it is never persisted and is immutable
// once created. Call Wipe when the client is disposed.
type KeyPair struct {
	private *ecdsa.PrivateKey
}

// GenerateKeyPair generates a new P-256 key pair using cryptographically
// secure random number generation.
//
// Returns ErrCryptoUnavailable (wrapped) if the secure random source fails;
// the client cannot proceed in that case. Uses crypto/rand for entropy;
// never uses math/rand.
func GenerateKeyPair() (*KeyPair, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate P-256 key pair: %v", ErrCryptoUnavailable, err)
	}
	return &KeyPair{private: key}, nil
}

// Public returns the public half of the key pair.
// Returns nil after Wipe.
func (kp *KeyPair) Public() *ecdsa.PublicKey {
	if kp.private == nil {
		return nil
	}
	return &kp.private.PublicKey
}

// Wipe zeroes the private scalar and detaches the key material.
// After Wipe, proof creation fails with a SigningError.
func (kp *KeyPair) Wipe() {
	if kp.private == nil {
		return
	}
	kp.private.D.SetInt64(0)
	kp.private = nil
}

// PublicKeyToJWK converts a P-256 public key to JWK format.
// The resulting JWK is embedded in DPoP proof headers.
//
// The conversion is pure and deterministic: the same key always yields the
// same JWK. Coordinates are fixed-width 32-byte big-endian values,
// base64url-encoded without padding.
func PublicKeyToJWK(publicKey *ecdsa.PublicKey) *JWK {
	x := make([]byte, coordinateSize)
	y := make([]byte, coordinateSize)
	publicKey.X.FillBytes(x)
	publicKey.Y.FillBytes(y)

	return &JWK{
		Kty: "EC",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(x),
		Y:   base64.RawURLEncoding.EncodeToString(y),
	}
}

// JWKToPublicKey converts a JWK to a P-256 public key.
// Performs strict validation of kty, crv, coordinate length, and curve
// membership.
func JWKToPublicKey(jwk *JWK) (*ecdsa.PublicKey, error) {
	if jwk.Kty != "EC" {
		return nil, fmt.Errorf("invalid JWK: kty must be EC, got %q", jwk.Kty)
	}

	if jwk.Crv != "P-256" {
		return nil, fmt.Errorf("invalid JWK: crv must be P-256, got %q", jwk.Crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("invalid JWK: failed to decode x coordinate: %w", err)
	}

	yBytes, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("invalid JWK: failed to decode y coordinate: %w", err)
	}

	if len(xBytes) != coordinateSize || len(yBytes) != coordinateSize {
		return nil, fmt.Errorf("invalid JWK: coordinates must be %d bytes", coordinateSize)
	}

	x := new(big.Int).SetBytes(xBytes)
	y := new(big.Int).SetBytes(yBytes)

	if !elliptic.P256().IsOnCurve(x, y) {
		return nil, fmt.Errorf("invalid JWK: point is not on P-256")
	}

	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

// Thumbprint computes the RFC 7638 JWK thumbprint of a P-256 public key.
// Returns the base64url-encoded (unpadded) SHA-256 of the canonical JWK
// representation with members in lexicographic order.
//
// The thumbprint is a stable key identifier safe to log; it never reveals
// private material.
func Thumbprint(publicKey *ecdsa.PublicKey) string {
	jwk := PublicKeyToJWK(publicKey)
	canonical := `{"crv":"` + jwk.Crv + `","kty":"` + jwk.Kty + `","x":"` + jwk.X + `","y":"` + jwk.Y + `"}`
	hash := sha256.Sum256([]byte(canonical))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
