// Package oauth implements the DPoP-bound access token lifecycle for the
// FHIR security client.
//
// A Lifecycle owns exactly one token state: it acquires the initial token
// with the client-credentials grant, tracks expiry with a safety margin, and
// refreshes (or re-authenticates) on demand. Every token endpoint exchange
// carries a DPoP proof and honors the server's single nonce challenge per
// RFC 9449 Section 8: record the DPoP-Nonce, retry exactly once, surface the
// second rejection.
//
// Concurrent EnsureValid callers racing past expiry are coalesced into a
// single refresh via singleflight, so a refresh token is never presented
// twice in parallel.
package oauth
