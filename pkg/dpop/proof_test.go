package dpop

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func newTestSigner(t *testing.T) (*Signer, *KeyPair) {
	t.Helper()
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}
	return NewSigner(kp), kp
}

func TestCreateProof_ValidJWT(t *testing.T) {
	t.Log("Testing proof signer produces valid JWT structure")

	signer, _ := newTestSigner(t)

	proof, err := signer.CreateProof("POST", "https://auth.example.org/token")
	if err != nil {
		t.Fatalf("failed to create proof: %v", err)
	}

	parts := strings.Split(proof, ".")
	if len(parts) != 3 {
		t.Fatalf("expected 3 JWT parts, got %d", len(parts))
	}
	for i, part := range parts {
		if part == "" {
			t.Errorf("part %d is empty", i)
		}
		if strings.ContainsAny(part, "+/=") {
			t.Errorf("part %d is not unpadded base64url", i)
		}
	}
}

func TestCreateProof_HeaderClaims(t *testing.T) {
	t.Log("Testing proof header carries typ, alg, and the public jwk")

	signer, kp := newTestSigner(t)

	proof, _ := signer.CreateProof("GET", "https://fhir.example.org/Patient/1")

	header, _, _, err := ParseProof(proof)
	if err != nil {
		t.Fatalf("failed to parse proof: %v", err)
	}

	if header["typ"] != "dpop+jwt" {
		t.Errorf("expected typ=dpop+jwt, got %v", header["typ"])
	}
	if header["alg"] != "ES256" {
		t.Errorf("expected alg=ES256, got %v", header["alg"])
	}

	jwkMap, ok := header["jwk"].(map[string]any)
	if !ok {
		t.Fatalf("jwk header missing or wrong type: %v", header["jwk"])
	}

	want := PublicKeyToJWK(kp.Public())
	if jwkMap["kty"] != "EC" || jwkMap["crv"] != "P-256" {
		t.Errorf("unexpected jwk kty/crv: %v/%v", jwkMap["kty"], jwkMap["crv"])
	}
	if jwkMap["x"] != want.X || jwkMap["y"] != want.Y {
		t.Error("embedded jwk coordinates do not match the signing key")
	}
}

func TestCreateProof_PayloadClaims(t *testing.T) {
	t.Log("Testing proof payload carries jti, htm, htu, iat")

	signer, _ := newTestSigner(t)

	proof, _ := signer.CreateProof("post", "HTTPS://FHIR.Example.org:443/Observation?patient=1#frag")

	claims, err := DecodeClaims(proof)
	if err != nil {
		t.Fatalf("failed to decode claims: %v", err)
	}

	if claims.JTI == "" {
		t.Error("jti must not be empty")
	}
	if claims.HTM != "POST" {
		t.Errorf("expected uppercase htm POST, got %q", claims.HTM)
	}
	if claims.HTU != "https://fhir.example.org/Observation" {
		t.Errorf("unexpected htu: %q", claims.HTU)
	}
	if claims.IAT == 0 {
		t.Error("iat must be set")
	}
	if claims.Nonce != "" || claims.ATH != "" {
		t.Error("nonce and ath must be absent when not requested")
	}
}

func TestCreateProof_UniqueJTI(t *testing.T) {
	t.Log("Testing proofs built within the same clock tick have distinct jti")

	signer, _ := newTestSigner(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		proof, err := signer.CreateProof("GET", "https://fhir.example.org/Patient")
		if err != nil {
			t.Fatalf("create proof %d: %v", i, err)
		}
		claims, _ := DecodeClaims(proof)
		if seen[claims.JTI] {
			t.Fatalf("duplicate jti on iteration %d", i)
		}
		seen[claims.JTI] = true
	}
}

func TestCreateProof_NonceAndATH(t *testing.T) {
	t.Log("Testing nonce and ath claims are present iff requested")

	signer, _ := newTestSigner(t)

	proof, err := signer.CreateProof("GET", "https://fhir.example.org/Patient/1",
		WithNonce("n-abc"), WithAccessToken("tok-123"))
	if err != nil {
		t.Fatalf("failed to create proof: %v", err)
	}

	claims, _ := DecodeClaims(proof)
	if claims.Nonce != "n-abc" {
		t.Errorf("expected nonce n-abc, got %q", claims.Nonce)
	}
	if claims.ATH != AccessTokenHash("tok-123") {
		t.Errorf("ath does not match the token hash: %q", claims.ATH)
	}
}

func TestAccessTokenHash(t *testing.T) {
	t.Log("Testing ath is the unpadded base64url SHA-256 of the token")

	// SHA-256("test") is well known
	got := AccessTokenHash("test")
	want := "n4bQgYhMfWWaL-qgxVrQFaO_TxsrC4Is0V1sFbDwCgg"
	if got != want {
		t.Errorf("AccessTokenHash(test) = %q, want %q", got, want)
	}

	raw, err := base64.RawURLEncoding.DecodeString(got)
	if err != nil {
		t.Fatalf("ath is not valid unpadded base64url: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("decoded ath is %d bytes, want 32", len(raw))
	}
}

func TestVerifyProof(t *testing.T) {
	t.Log("Testing signature verifies against the embedded public key")

	signer, kp := newTestSigner(t)

	proof, _ := signer.CreateProof("GET", "https://fhir.example.org/Patient/1")

	if !VerifyProof(proof, kp.Public()) {
		t.Fatal("freshly created proof failed verification")
	}

	other, _ := GenerateKeyPair()
	if VerifyProof(proof, other.Public()) {
		t.Error("proof verified against the wrong key")
	}
}

func TestVerifyProof_Mutation(t *testing.T) {
	t.Log("Testing any single-byte mutation of header or claims invalidates the signature")

	signer, kp := newTestSigner(t)
	proof, _ := signer.CreateProof("GET", "https://fhir.example.org/Patient/1")
	parts := strings.Split(proof, ".")

	flip := func(s string, i int) string {
		b := []byte(s)
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
		return string(b)
	}

	for segment := 0; segment < 2; segment++ {
		mutated := make([]string, 3)
		copy(mutated, parts)
		mutated[segment] = flip(parts[segment], len(parts[segment])/2)
		if VerifyProof(strings.Join(mutated, "."), kp.Public()) {
			t.Errorf("mutated segment %d still verifies", segment)
		}
	}
}

func TestClaimsRoundTrip(t *testing.T) {
	t.Log("Testing encode/decode round trip preserves the claim set")

	signer, _ := newTestSigner(t)

	proof, _ := signer.CreateProof("PUT", "https://fhir.example.org/Patient/7",
		WithNonce("n-42"), WithAccessToken("T1"))

	claims, err := DecodeClaims(proof)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if claims.HTM != "PUT" ||
		claims.HTU != "https://fhir.example.org/Patient/7" ||
		claims.Nonce != "n-42" ||
		claims.ATH != AccessTokenHash("T1") {
		t.Errorf("round-tripped claims differ: %+v", claims)
	}
}

func TestCreateProof_InvalidURI(t *testing.T) {
	signer, _ := newTestSigner(t)

	for _, uri := range []string{"", "/relative/path", "not a uri at all", "://missing-scheme"} {
		_, err := signer.CreateProof("GET", uri)
		if err == nil {
			t.Errorf("expected error for uri %q", uri)
			continue
		}
		var invalid InvalidInputError
		if !errors.As(err, &invalid) {
			t.Errorf("expected InvalidInputError for %q, got %T", uri, err)
		}
	}
}

func TestNormalizeURI(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase scheme and host", "HTTPS://FHIR.Example.org/Patient", "https://fhir.example.org/Patient"},
		{"strip default https port", "https://fhir.example.org:443/Patient", "https://fhir.example.org/Patient"},
		{"strip default http port", "http://fhir.example.org:80/Patient", "http://fhir.example.org/Patient"},
		{"keep non-default port", "https://fhir.example.org:8443/Patient", "https://fhir.example.org:8443/Patient"},
		{"drop query", "https://fhir.example.org/Patient?name=smith", "https://fhir.example.org/Patient"},
		{"drop fragment", "https://fhir.example.org/Patient#top", "https://fhir.example.org/Patient"},
		{"empty path becomes root", "https://fhir.example.org", "https://fhir.example.org/"},
		{"path case preserved", "https://fhir.example.org/PaTiEnT", "https://fhir.example.org/PaTiEnT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURI(tt.in)
			if err != nil {
				t.Fatalf("NormalizeURI(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeURI(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
