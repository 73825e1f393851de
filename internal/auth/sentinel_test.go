package auth

import (
	"strings"
	"testing"
)

func TestNextSentinelShape(t *testing.T) {
	for i := 0; i < 200; i++ {
		token, err := NextSentinel()
		if err != nil {
			t.Fatalf("next sentinel: %v", err)
		}
		if len(token) < 10 || len(token) > 20 {
			t.Fatalf("sentinel length %d out of range: %q", len(token), token)
		}
		for _, r := range token {
			if !strings.ContainsRune(sentinelAlphabet, r) {
				t.Fatalf("sentinel contains non-alphanumeric rune %q: %q", r, token)
			}
		}
	}
}

func TestNextSentinelFreshness(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		token, err := NextSentinel()
		if err != nil {
			t.Fatalf("next sentinel: %v", err)
		}
		if _, dup := seen[token]; dup {
			t.Fatalf("sentinel repeated: %q", token)
		}
		seen[token] = struct{}{}
	}
}
