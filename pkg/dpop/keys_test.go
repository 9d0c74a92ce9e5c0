package dpop

import (
	"testing"
)

func TestGenerateKeyPair(t *testing.T) {
	t.Log("Testing key pair generation produces a usable P-256 key")

	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}

	pub := kp.Public()
	if pub == nil {
		t.Fatal("public key is nil")
	}
	if pub.Curve.Params().Name != "P-256" {
		t.Errorf("expected curve P-256, got %s", pub.Curve.Params().Name)
	}
}

func TestGenerateKeyPair_Unique(t *testing.T) {
	t.Log("Testing consecutive key pairs are distinct")

	a, _ := GenerateKeyPair()
	b, _ := GenerateKeyPair()

	if a.Public().X.Cmp(b.Public().X) == 0 && a.Public().Y.Cmp(b.Public().Y) == 0 {
		t.Error("two generated key pairs share the same public point")
	}
}

func TestPublicKeyToJWK(t *testing.T) {
	t.Log("Testing JWK export format and determinism")

	kp, _ := GenerateKeyPair()
	jwk := PublicKeyToJWK(kp.Public())

	if jwk.Kty != "EC" {
		t.Errorf("expected kty=EC, got %q", jwk.Kty)
	}
	if jwk.Crv != "P-256" {
		t.Errorf("expected crv=P-256, got %q", jwk.Crv)
	}
	if jwk.X == "" || jwk.Y == "" {
		t.Error("coordinates must not be empty")
	}

	// base64url without padding
	for _, s := range []string{jwk.X, jwk.Y} {
		if len(s) != 43 { // 32 bytes -> 43 unpadded base64url chars
			t.Errorf("coordinate has length %d, want 43", len(s))
		}
	}

	// Deterministic: exporting again yields the same JWK
	again := PublicKeyToJWK(kp.Public())
	if *again != *jwk {
		t.Error("JWK export is not deterministic")
	}
}

func TestJWKRoundTrip(t *testing.T) {
	t.Log("Testing JWK -> public key -> JWK round trip")

	kp, _ := GenerateKeyPair()
	jwk := PublicKeyToJWK(kp.Public())

	pub, err := JWKToPublicKey(jwk)
	if err != nil {
		t.Fatalf("failed to convert JWK back to public key: %v", err)
	}

	if pub.X.Cmp(kp.Public().X) != 0 || pub.Y.Cmp(kp.Public().Y) != 0 {
		t.Error("round-tripped public key differs from original")
	}
}

func TestJWKToPublicKey_Invalid(t *testing.T) {
	tests := []struct {
		name string
		jwk  JWK
	}{
		{"wrong kty", JWK{Kty: "OKP", Crv: "P-256", X: "AA", Y: "AA"}},
		{"wrong crv", JWK{Kty: "EC", Crv: "P-384", X: "AA", Y: "AA"}},
		{"bad base64", JWK{Kty: "EC", Crv: "P-256", X: "!!!", Y: "AA"}},
		{"short coordinates", JWK{Kty: "EC", Crv: "P-256", X: "AAAA", Y: "AAAA"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := JWKToPublicKey(&tt.jwk); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestThumbprint_Stable(t *testing.T) {
	t.Log("Testing RFC 7638 thumbprint is stable for the same key")

	kp, _ := GenerateKeyPair()

	tp1 := Thumbprint(kp.Public())
	tp2 := Thumbprint(kp.Public())

	if tp1 != tp2 {
		t.Errorf("thumbprint not stable: %q vs %q", tp1, tp2)
	}
	if len(tp1) != 43 { // unpadded base64url SHA-256
		t.Errorf("thumbprint has length %d, want 43", len(tp1))
	}

	other, _ := GenerateKeyPair()
	if Thumbprint(other.Public()) == tp1 {
		t.Error("distinct keys produced the same thumbprint")
	}
}

func TestWipe(t *testing.T) {
	t.Log("Testing wiped key material refuses to sign")

	kp, _ := GenerateKeyPair()
	signer := NewSigner(kp)

	kp.Wipe()

	if kp.Public() != nil {
		t.Error("public key still available after wipe")
	}

	_, err := signer.CreateProof("GET", "https://fhir.example.org/Patient/1")
	if err == nil {
		t.Fatal("expected signing error after wipe")
	}
	if _, ok := err.(SigningError); !ok {
		t.Errorf("expected SigningError, got %T", err)
	}
}
