package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	for code := range knownCodes {
		if !IsKnownCode(code) {
			t.Fatalf("IsKnownCode(%q) = false", code)
		}
	}
	if !IsKnownCode("") {
		t.Fatalf("empty code should be accepted")
	}
	if IsKnownCode("E_MADE_UP") {
		t.Fatalf("unknown code should be rejected")
	}
}
