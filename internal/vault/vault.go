// Package vault seals the payment-gateway customer identifier before it is
// persisted. Ciphertexts are AES-256-GCM with a random nonce, so sealing the
// same value twice yields different ciphertexts; both decrypt to the original.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	keySize   = 32
	nonceSize = 12
)

var (
	ErrBadKeySize    = errors.New("vault: key must be 32 bytes")
	ErrBadCiphertext = errors.New("vault: ciphertext malformed or tampered")
)

// Vault performs symmetric encryption of short identifiers.
// The key is loaded once at process start; all operations are in-memory.
type Vault struct {
	aead cipher.AEAD
}

// New creates a Vault from a raw 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != keySize {
		return nil, ErrBadKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: create gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Seal encrypts plaintext and returns a base64 ciphertext.
// Output format before encoding: [12-byte nonce][AES-256-GCM ciphertext].
func (v *Vault) Seal(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}
	buf := []byte(plaintext)
	sealed := v.aead.Seal(nonce, nonce, buf, nil)
	zero(buf)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a ciphertext produced by Seal.
func (v *Vault) Open(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrBadCiphertext
	}
	if len(raw) < nonceSize+1 {
		return "", ErrBadCiphertext
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrBadCiphertext
	}
	out := string(plaintext)
	zero(plaintext)
	return out, nil
}

// zero wipes an intermediate plaintext buffer. The returned string itself
// cannot be wiped; only the working copies are.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// SelfTest seals and opens a probe value. It is called once at startup;
// failure means the key material is unusable and the process must not serve.
func (v *Vault) SelfTest() error {
	const probe = "vault-self-test"
	ct, err := v.Seal(probe)
	if err != nil {
		return fmt.Errorf("vault: self-test seal: %w", err)
	}
	pt, err := v.Open(ct)
	if err != nil {
		return fmt.Errorf("vault: self-test open: %w", err)
	}
	if pt != probe {
		return errors.New("vault: self-test round-trip mismatch")
	}
	return nil
}
