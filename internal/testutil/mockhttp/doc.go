// Package mockhttp provides a builder for mock HTTP servers in tests.
//
// It removes boilerplate when testing the DPoP client stack: configuring
// token endpoint responses, sequencing nonce challenges, capturing requests,
// and asserting on DPoP headers.
//
// # Basic Usage
//
// A token endpoint that succeeds immediately:
//
//	server, _ := mockhttp.New().
//		JSON("/token", map[string]any{"access_token": "T1", "expires_in": 3600}).
//		Build()
//	defer server.Close()
//
// # Nonce Challenges
//
// Reject proofs until they echo a nonce, the way RFC 9449 servers do:
//
//	b := mockhttp.New().NonceGate("/token", "n1", http.StatusBadRequest)
//
// # Sequenced Responses
//
// Script the exact response per attempt:
//
//	b := mockhttp.New().Sequence("/token",
//		mockhttp.Response{Status: 400, Nonce: "n1"},
//		mockhttp.Response{Status: 200, JSON: tokenBody},
//	)
//
// # Request Capture
//
//	capture := b.Capture()
//	// ... make requests ...
//	if capture.CountPath("/token") != 2 { ... }
package mockhttp
