package checkout

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

var ErrTokenSecretRequired = errors.New("checkout: token secret required")

// TokenSealer encrypts the bearer token carried in a workflow input so the
// workflow history only ever holds ciphertext. The storefront and the worker
// share the secret; each sealed token is bound to its submission ID.
type TokenSealer struct {
	aead cipher.AEAD
}

func NewTokenSealer(secret string) (*TokenSealer, error) {
	if secret == "" {
		return nil, ErrTokenSecretRequired
	}
	key := blake2b.Sum256([]byte(secret))
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("token cipher: %w", err)
	}
	return &TokenSealer{aead: aead}, nil
}

// Seal encrypts token for submissionID. An empty token seals to nil.
func (s *TokenSealer) Seal(token, submissionID string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(token)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("token nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, []byte(token), []byte(submissionID)), nil
}

// Open reverses Seal. It fails when the ciphertext was sealed for another
// submission or with another secret.
func (s *TokenSealer) Open(sealed []byte, submissionID string) (string, error) {
	if len(sealed) == 0 {
		return "", nil
	}
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return "", errors.New("checkout: sealed token too short")
	}
	plain, err := s.aead.Open(nil, sealed[:n], sealed[n:], []byte(submissionID))
	if err != nil {
		return "", fmt.Errorf("open sealed token: %w", err)
	}
	return string(plain), nil
}
