package middleware

import (
	"bytes"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
)

func newKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, KeySize)
	if _, err := rand.Read(k); err != nil {
		t.Fatal(err)
	}
	return k
}

func TestNewSealer_Validation(t *testing.T) {
	k := newKey(t)
	tests := []struct {
		name  string
		keyID string
		keys  map[string][]byte
	}{
		{"no keys", "k1", nil},
		{"missing key id", "k2", map[string][]byte{"k1": k}},
		{"short key", "k1", map[string][]byte{"k1": []byte("short")}},
		{"dotted id", "k.1", map[string][]byte{"k.1": k}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSealer(tt.keyID, tt.keys, nil); !errors.Is(err, ErrTokenConfig) {
				t.Errorf("got %v, want ErrTokenConfig", err)
			}
		})
	}
}

func TestSealer_RoundTrip(t *testing.T) {
	s, err := NewSealer("k1", map[string][]byte{"k1": newKey(t)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	token, err := s.Seal([]byte("payload"), []byte("aad"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !strings.HasPrefix(token, "k1.") {
		t.Errorf("got token %q, want key id prefix", token)
	}
	plain, err := s.Open(token, []byte("aad"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(plain, []byte("payload")) {
		t.Errorf("got %q", plain)
	}

	again, _ := s.Seal([]byte("payload"), []byte("aad"))
	if again == token {
		t.Error("nonce reused")
	}
}

func TestSealer_Rejects(t *testing.T) {
	s, _ := NewSealer("k1", map[string][]byte{"k1": newKey(t)}, nil)
	token, _ := s.Seal([]byte("payload"), []byte("aad"))

	tampered := []byte(token)
	mid := len("k1.") + 8
	if tampered[mid] == 'A' {
		tampered[mid] = 'B'
	} else {
		tampered[mid] = 'A'
	}

	tests := []struct {
		name  string
		token string
		aad   string
		want  error
	}{
		{"empty", "", "aad", ErrTokenFormat},
		{"no separator", "abc", "aad", ErrTokenFormat},
		{"bad base64", "k1.!!!", "aad", ErrTokenFormat},
		{"too short", "k1.AAAA", "aad", ErrTokenFormat},
		{"too long", "k1." + strings.Repeat("A", maxTokenLen), "aad", ErrTokenFormat},
		{"unknown key", "k9." + strings.SplitN(token, ".", 2)[1], "aad", ErrTokenInvalid},
		{"tampered", string(tampered), "aad", ErrTokenInvalid},
		{"other aad", token, "other", ErrTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Open(tt.token, []byte(tt.aad)); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSealer_KeyRotation(t *testing.T) {
	old, cur := newKey(t), newKey(t)
	before, _ := NewSealer("old", map[string][]byte{"old": old}, nil)
	token, _ := before.Seal([]byte("x"), nil)

	after, err := NewSealer("new", map[string][]byte{"old": old, "new": cur}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := after.Open(token, nil); err != nil {
		t.Errorf("token sealed with retired key: %v", err)
	}
	fresh, _ := after.Seal([]byte("x"), nil)
	if !strings.HasPrefix(fresh, "new.") {
		t.Errorf("got %q, want new key", fresh)
	}
}
