package install

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"kudos/pkg/util"

	"golang.org/x/crypto/hkdf"
)

const (
	sealedPrefix = "v1:"
	hkdfInfo     = "kudos installation data"
)

var ErrCiphertext = errors.New("install: invalid ciphertext")

// Sealer encrypts install payloads with AES-256-GCM under a key derived
// from the configured secret. A nil Sealer passes data through unchanged.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer returns nil when secret is empty.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, nil
	}

	var key [32]byte
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key[:]); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm init: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

func (s *Sealer) Seal(plain []byte) (string, error) {
	if s == nil {
		return string(plain), nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce gen: %w", err)
	}
	return sealedPrefix + hex.EncodeToString(s.aead.Seal(nonce, nonce, plain, nil)), nil
}

// Open reverses Seal. Unprefixed values were stored without a key and are
// returned as is.
func (s *Sealer) Open(stored string) ([]byte, error) {
	enc, sealed := strings.CutPrefix(stored, sealedPrefix)
	if !sealed {
		return []byte(stored), nil
	}
	if s == nil {
		return nil, fmt.Errorf("%w: no encryption key configured", ErrCiphertext)
	}

	data, err := hex.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return nil, ErrCiphertext
	}
	plain, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	return plain, nil
}

func newState() (string, error) {
	return util.RandomHex(16)
}
