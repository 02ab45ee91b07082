package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewSealer(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		errorMsg string
	}{
		{name: "empty key", key: "", errorMsg: "encryption key is empty"},
		{name: "invalid base64", key: "not-valid-base64!@#$", errorMsg: "base64 decode failed"},
		{name: "key too short", key: base64.StdEncoding.EncodeToString(make([]byte, 16)), errorMsg: "must be 32 bytes"},
		{name: "key too long", key: base64.StdEncoding.EncodeToString(make([]byte, 64)), errorMsg: "must be 32 bytes"},
		{name: "valid 32-byte key", key: base64.StdEncoding.EncodeToString(make([]byte, 32))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSealer(tt.key)
			if tt.errorMsg != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("NewSealer() error = %v, want error containing %q", err, tt.errorMsg)
				}
				return
			}
			if err != nil || !s.Enabled() {
				t.Errorf("NewSealer() = %v, %v", s, err)
			}
		})
	}
}

func TestSealOpen(t *testing.T) {
	s, err := NewSealer(testKey(t))
	if err != nil {
		t.Fatal(err)
	}
	for _, plain := range []string{"oauth:abc123", "x", strings.Repeat("long-token-", 50)} {
		sealed, err := s.Seal(plain)
		if err != nil {
			t.Fatalf("Seal() error = %v", err)
		}
		if !IsSealed(sealed) {
			t.Errorf("Seal(%q) = %q, missing prefix", plain, sealed)
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
		if err != nil {
			t.Fatalf("sealed payload is not base64: %v", err)
		}
		if want := 12 + len(plain) + 16; len(raw) != want {
			t.Errorf("Seal(%q) payload = %d bytes, want nonce+ciphertext+tag = %d", plain, len(raw), want)
		}
		if len(plain) >= 8 && bytes.Contains(raw, []byte(plain)) {
			t.Errorf("Seal(%q) leaks the plaintext", plain)
		}
		got, err := s.Open(sealed)
		if err != nil || got != plain {
			t.Errorf("Open() = %q, %v, want %q", got, err, plain)
		}
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	s, _ := NewSealer(testKey(t))
	a, _ := s.Seal("same")
	b, _ := s.Seal("same")
	if a == b {
		t.Error("two seals of the same value are identical")
	}
}

func TestNilSealerPassesThrough(t *testing.T) {
	var s *Sealer
	if s.Enabled() {
		t.Error("nil sealer reports enabled")
	}
	v, err := s.Seal("plain")
	if err != nil || v != "plain" {
		t.Errorf("Seal() = %q, %v", v, err)
	}
	v, err = s.Open("plain")
	if err != nil || v != "plain" {
		t.Errorf("Open() = %q, %v", v, err)
	}

	keyed, _ := NewSealer(testKey(t))
	sealed, _ := keyed.Seal("secret")
	if _, err := s.Open(sealed); !errors.Is(err, ErrNoKey) {
		t.Errorf("Open(sealed) without key = %v, want ErrNoKey", err)
	}
}

func TestOpenRejectsTamperingAndWrongKey(t *testing.T) {
	s1, _ := NewSealer(testKey(t))
	s2, _ := NewSealer(testKey(t))
	sealed, _ := s1.Seal("secret")

	if _, err := s2.Open(sealed); err == nil {
		t.Error("Open() with wrong key succeeded")
	}

	raw, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	raw[len(raw)-1] ^= 0xff
	tampered := sealedPrefix + base64.StdEncoding.EncodeToString(raw)
	if _, err := s1.Open(tampered); err == nil {
		t.Error("Open() of tampered value succeeded")
	}
	if _, err := s1.Open(sealedPrefix + "!!!"); err == nil {
		t.Error("Open() of invalid base64 succeeded")
	}
	if _, err := s1.Open(sealedPrefix + base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Error("Open() of short ciphertext succeeded")
	}
}
