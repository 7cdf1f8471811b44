package middleware

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrTokenFormat  = errors.New("invalid session token format")
	ErrTokenInvalid = errors.New("invalid session token")
	ErrTokenConfig  = errors.New("invalid session token configuration")
)

// maxTokenLen bounds the client-controlled data decoded for a token.
const maxTokenLen = 8192

// KeySize is the key length in bytes required by the default AEAD.
const KeySize = chacha20poly1305.KeySize

// Sealer seals and opens opaque tokens with an AEAD.
//
// Format: [keyID] "." base64url(nonce || AEAD.Seal(plaintext, aad))
//
// Keys holds every accepted key; KeyID selects the key used for sealing, so
// keys can be rotated by adding the new key, switching KeyID and later
// removing the old key.
type Sealer struct {
	KeyID string
	Keys  map[string][]byte

	// NewAEAD defaults to chacha20poly1305.NewX.
	NewAEAD func(key []byte) (cipher.AEAD, error)
}

// NewSealer validates keys and returns a Sealer. newAEAD may be nil.
func NewSealer(keyID string, keys map[string][]byte, newAEAD func(key []byte) (cipher.AEAD, error)) (*Sealer, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no keys", ErrTokenConfig)
	}
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: key %q not found", ErrTokenConfig, keyID)
	}
	if newAEAD == nil {
		newAEAD = chacha20poly1305.NewX
	}
	for id, k := range keys {
		if strings.Contains(id, ".") {
			return nil, fmt.Errorf("%w: key id %q contains '.'", ErrTokenConfig, id)
		}
		if _, err := newAEAD(k); err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrTokenConfig, id, err)
		}
	}
	return &Sealer{KeyID: keyID, Keys: keys, NewAEAD: newAEAD}, nil
}

// Seal encrypts plain. aad binds the token to its use.
func (s *Sealer) Seal(plain, aad []byte) (string, error) {
	if s == nil {
		return "", ErrTokenConfig
	}
	key, ok := s.Keys[s.KeyID]
	if !ok {
		return "", ErrTokenConfig
	}
	aead, err := s.NewAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plain, aad)
	return s.KeyID + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a token produced by Seal with the same aad.
func (s *Sealer) Open(token string, aad []byte) ([]byte, error) {
	if s == nil {
		return nil, ErrTokenConfig
	}
	if len(token) == 0 || len(token) > maxTokenLen {
		return nil, ErrTokenFormat
	}
	keyID, enc, ok := strings.Cut(token, ".")
	if !ok || keyID == "" || enc == "" {
		return nil, ErrTokenFormat
	}
	key, ok := s.Keys[keyID]
	if !ok {
		return nil, ErrTokenInvalid
	}
	sealed, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return nil, ErrTokenFormat
	}

	aead, err := s.NewAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrTokenFormat
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return plain, nil
}
