package domain

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey(t *testing.T) {
	raw, hash, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(raw, "lc_") {
		t.Fatalf("expected lc_ prefix, got %q", raw)
	}
	if hash != HashAPIKey(raw) {
		t.Fatal("hash does not match raw key")
	}

	other, _, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if raw == other {
		t.Fatal("expected unique keys")
	}
}

func TestHashAPIKeyIsStable(t *testing.T) {
	if HashAPIKey("lc_abc") != HashAPIKey("lc_abc") {
		t.Fatal("expected deterministic hash")
	}
	if HashAPIKey("lc_abc") == HashAPIKey("lc_abd") {
		t.Fatal("expected distinct hashes for distinct keys")
	}
	if len(HashAPIKey("x")) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(HashAPIKey("x")))
	}
}
