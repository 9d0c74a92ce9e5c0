// Package fhirclient provides an HTTP client that binds every request to the
// client's DPoP key: a fresh proof per attempt, the access token in a
// DPoP-scheme Authorization header, and the RFC 9449 nonce handshake with a
// single transparent retry.
//
// The client orchestrates the token lifecycle (pkg/oauth), the proof signer,
// and the nonce tracker (pkg/dpop); callers see ordinary *http.Response
// values and decide for themselves what a non-success status means.
package fhirclient
