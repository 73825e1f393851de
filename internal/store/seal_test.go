package store

import (
	"encoding/hex"
	"strings"
	"testing"

	"golang.org/x/crypto/chacha20poly1305"
)

func testSealer(t *testing.T) *Sealer {
	t.Helper()
	key := strings.Repeat("ab", chacha20poly1305.KeySize)
	sealer, err := NewSealer(key)
	if err != nil {
		t.Fatalf("NewSealer returned error: %v", err)
	}
	return sealer
}

func TestSealRoundTrip(t *testing.T) {
	sealer := testSealer(t)

	sealed, err := sealer.Seal("refresh-token-secret")
	if err != nil {
		t.Fatalf("Seal returned error: %v", err)
	}
	if sealed == "" || strings.Contains(sealed, "refresh-token-secret") {
		t.Fatalf("token not sealed: %q", sealed)
	}

	opened, err := sealer.Open(sealed)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if opened != "refresh-token-secret" {
		t.Fatalf("round trip lost data: %q", opened)
	}
}

func TestSealEmptyIsEmpty(t *testing.T) {
	sealer := testSealer(t)

	sealed, err := sealer.Seal("")
	if err != nil || sealed != "" {
		t.Fatalf("empty plaintext should seal to empty, got %q, %v", sealed, err)
	}
	opened, err := sealer.Open("")
	if err != nil || opened != "" {
		t.Fatalf("empty token should open to empty, got %q, %v", opened, err)
	}
}

func TestSealNoncesDiffer(t *testing.T) {
	sealer := testSealer(t)

	first, err := sealer.Seal("same-secret")
	if err != nil {
		t.Fatalf("Seal returned error: %v", err)
	}
	second, err := sealer.Seal("same-secret")
	if err != nil {
		t.Fatalf("Seal returned error: %v", err)
	}
	if first == second {
		t.Fatal("sealing the same plaintext twice must not repeat ciphertext")
	}
}

func TestOpenRejectsTamperedToken(t *testing.T) {
	sealer := testSealer(t)

	sealed, err := sealer.Seal("secret")
	if err != nil {
		t.Fatalf("Seal returned error: %v", err)
	}

	tampered := "A" + sealed[1:]
	if tampered == sealed {
		tampered = "B" + sealed[1:]
	}
	if _, err := sealer.Open(tampered); err == nil {
		t.Fatal("expected tampered token to be rejected")
	}

	if _, err := sealer.Open("not-base64!!"); err == nil {
		t.Fatal("expected malformed token to be rejected")
	}
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	sealer := testSealer(t)
	other, err := NewSealer(strings.Repeat("cd", chacha20poly1305.KeySize))
	if err != nil {
		t.Fatalf("NewSealer returned error: %v", err)
	}

	sealed, err := sealer.Seal("secret")
	if err != nil {
		t.Fatalf("Seal returned error: %v", err)
	}
	if _, err := other.Open(sealed); err == nil {
		t.Fatal("expected wrong key to fail to open")
	}
}

func TestNewSealerRejectsBadKeys(t *testing.T) {
	if _, err := NewSealer("zz"); err == nil {
		t.Error("expected error for non-hex key")
	}
	short := hex.EncodeToString(make([]byte, 16))
	if _, err := NewSealer(short); err == nil {
		t.Error("expected error for short key")
	}
}
