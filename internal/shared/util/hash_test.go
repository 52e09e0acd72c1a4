package util

import "testing"

func TestHashString(t *testing.T) {
	got := HashString("schema")
	if got != HashString("schema") {
		t.Fatalf("expected stable hash, got %s", got)
	}
	for _, ch := range got {
		if !((ch >= 'a' && ch <= 'f') || (ch >= '0' && ch <= '9')) {
			t.Fatalf("hash contains non-hex character: %c", ch)
		}
	}
	if len(got) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(got))
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte(`{"fields":[]}`))
	b := Fingerprint([]byte(`{"fields":[1]}`))
	if len(a) != 16 {
		t.Fatalf("expected 16 hex characters, got %d", len(a))
	}
	if a == b {
		t.Fatalf("expected different fingerprints for different content")
	}
}
