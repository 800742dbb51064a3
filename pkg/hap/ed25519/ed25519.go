package ed25519

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
)

const (
	PublicKeySize  = ed25519.PublicKeySize
	PrivateKeySize = ed25519.PrivateKeySize
	SeedSize       = ed25519.SeedSize
)

var ErrInvalidParams = errors.New("ed25519: invalid params")

func ValidateSignature(key, data, signature []byte) bool {
	if len(key) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}

	return ed25519.Verify(key, data, signature)
}

func Signature(key, data []byte) ([]byte, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, ErrInvalidParams
	}

	return ed25519.Sign(key, data), nil
}

// GenerateKey returns new private key, public key is its last 32 bytes
func GenerateKey() []byte {
	_, key, _ := ed25519.GenerateKey(rand.Reader)
	return key
}

// NewKeyFromSeed returns deterministic private key for 32 byte seed
func NewKeyFromSeed(seed []byte) ([]byte, error) {
	if len(seed) != SeedSize {
		return nil, ErrInvalidParams
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func PublicKey(key []byte) []byte {
	if len(key) != ed25519.PrivateKeySize {
		return nil
	}
	return key[SeedSize:]
}
