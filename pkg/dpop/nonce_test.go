package dpop

import (
	"fmt"
	"sync"
	"testing"
)

func TestNonceTracker_ObserveAndCurrent(t *testing.T) {
	t.Log("Testing basic observe/current behavior per origin")

	tracker := NewNonceTracker()

	if _, ok := tracker.Current("https://auth.example.org"); ok {
		t.Error("expected no nonce before any observation")
	}

	tracker.Observe("https://auth.example.org", "n1")
	nonce, ok := tracker.Current("https://auth.example.org")
	if !ok || nonce != "n1" {
		t.Errorf("expected n1, got %q (ok=%v)", nonce, ok)
	}

	// Overwrite is unconditional
	tracker.Observe("https://auth.example.org", "n2")
	nonce, _ = tracker.Current("https://auth.example.org")
	if nonce != "n2" {
		t.Errorf("expected overwrite to n2, got %q", nonce)
	}

	// Origins are isolated
	if _, ok := tracker.Current("https://fhir.example.org"); ok {
		t.Error("nonce leaked across origins")
	}
}

func TestNonceTracker_IgnoresEmpty(t *testing.T) {
	tracker := NewNonceTracker()
	tracker.Observe("https://auth.example.org", "n1")
	tracker.Observe("https://auth.example.org", "")

	nonce, _ := tracker.Current("https://auth.example.org")
	if nonce != "n1" {
		t.Errorf("empty observation overwrote stored nonce: %q", nonce)
	}
}

func TestNonceTracker_Concurrent(t *testing.T) {
	t.Log("Testing concurrent observe/current never corrupts state")

	tracker := NewNonceTracker()
	const origin = "https://auth.example.org"

	var wg sync.WaitGroup
	valid := make(map[string]bool)
	for i := 0; i < 50; i++ {
		valid[fmt.Sprintf("n%d", i)] = true
	}

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			tracker.Observe(origin, fmt.Sprintf("n%d", n))
		}(i)
		go func() {
			defer wg.Done()
			if nonce, ok := tracker.Current(origin); ok && !valid[nonce] {
				t.Errorf("read corrupted nonce %q", nonce)
			}
		}()
	}
	wg.Wait()

	// Final value must be one of the written values, never a torn mix.
	nonce, ok := tracker.Current(origin)
	if !ok || !valid[nonce] {
		t.Errorf("final nonce %q (ok=%v) is not one of the written values", nonce, ok)
	}

	// A write sequenced after all others wins.
	tracker.Observe(origin, "final")
	nonce, _ = tracker.Current(origin)
	if nonce != "final" {
		t.Errorf("sequenced write did not win: %q", nonce)
	}
}

func TestOriginKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://FHIR.Example.org/Patient/1?x=1", "https://fhir.example.org"},
		{"https://fhir.example.org:8443/Patient", "https://fhir.example.org:8443"},
		{"http://localhost:8080/token", "http://localhost:8080"},
	}

	for _, tt := range tests {
		got, err := OriginKey(tt.in)
		if err != nil {
			t.Fatalf("OriginKey(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("OriginKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := OriginKey("/relative"); err == nil {
		t.Error("expected error for relative URI")
	}
}
