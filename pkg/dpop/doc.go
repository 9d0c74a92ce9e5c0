// Package dpop implements the client side of DPoP (Demonstrating Proof of
// Possession) per RFC 9449.
//
// DPoP binds OAuth access tokens to a client-held key pair: every outbound
// request carries a short-lived proof JWT signed with the private key, so a
// stolen token is useless without the key. This package provides the key
// material, proof construction, and server-nonce tracking used by the token
// lifecycle (pkg/oauth) and the signed HTTP client (pkg/fhirclient).
//
// # Proof Structure
//
// A DPoP proof is a compact JWT:
//   - Header: typ="dpop+jwt", alg="ES256", jwk={kty,crv,x,y}
//   - Claims: jti (unique ID), htm (HTTP method), htu (normalized URI),
//     iat (timestamp), nonce (server freshness value, when issued), and
//     ath (access token hash, on token-bound resource requests)
//
// # Usage
//
// Create proofs for requests:
//
//	kp, err := dpop.GenerateKeyPair()
//	signer := dpop.NewSigner(kp)
//	proof, err := signer.CreateProof("POST", "https://auth.example.org/token")
//
// Reference: RFC 9449 (OAuth 2.0 Demonstrating Proof of Possession)
package dpop
