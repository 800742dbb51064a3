package curve25519

import (
	"crypto/rand"

	"golang.org/x/crypto/curve25519"
)

// GenerateKeyPair returns ephemeral key pair for one pair-verify exchange
func GenerateKeyPair() (publicKey, privateKey []byte, err error) {
	privateKey = make([]byte, curve25519.ScalarSize)
	if _, err = rand.Read(privateKey); err != nil {
		return nil, nil, err
	}

	if publicKey, err = curve25519.X25519(privateKey, curve25519.Basepoint); err != nil {
		return nil, nil, err
	}

	return
}

func SharedSecret(privateKey, otherPublicKey []byte) ([]byte, error) {
	return curve25519.X25519(privateKey, otherPublicKey)
}
