// Package privacy seals sensitive fields and decides who may open them.
package privacy

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sentinel is returned in place of plaintext the caller may not see.
const Sentinel = "encrypted data"

const version = "v1"

var (
	ErrMissingKey    = errors.New("encryption key not configured")
	ErrBadCiphertext = errors.New("malformed ciphertext")
	ErrKeyMismatch   = errors.New("ciphertext sealed under another key")
)

// Cipher seals JSON values with XChaCha20-Poly1305. Ciphertexts carry the
// key id: v1.<key-id>.<base64url(nonce|sealed)>.
type Cipher struct {
	keyID string
	key   []byte
}

func NewCipher(keyID string, key []byte) (*Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrMissingKey, chacha20poly1305.KeySize, len(key))
	}
	if keyID == "" || strings.Contains(keyID, ".") {
		return nil, fmt.Errorf("invalid key id %q", keyID)
	}
	return &Cipher{keyID: keyID, key: append([]byte(nil), key...)}, nil
}

func (c *Cipher) KeyID() string {
	return c.keyID
}

func (c *Cipher) Seal(plaintext any) (string, error) {
	data, err := json.Marshal(plaintext)
	if err != nil {
		return "", fmt.Errorf("marshal plaintext: %w", err)
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(data)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, data, []byte(c.keyID))
	return version + "." + c.keyID + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Open(ciphertext string) (any, error) {
	parts := strings.SplitN(ciphertext, ".", 3)
	if len(parts) != 3 || parts[0] != version {
		return nil, ErrBadCiphertext
	}
	if parts[1] != c.keyID {
		return nil, fmt.Errorf("%w: %s", ErrKeyMismatch, parts[1])
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrBadCiphertext
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrBadCiphertext
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	data, err := aead.Open(nil, nonce, sealed, []byte(c.keyID))
	if err != nil {
		return nil, err
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
