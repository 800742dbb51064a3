package chacha20poly1305

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = 8
	Overhead  = chacha20poly1305.Overhead
)

var ErrInvalidParams = errors.New("chacha20poly1305: invalid params")

// Decrypt opens pairing messages, nonce8 is a label like "PV-Msg03"
func Decrypt(key32 []byte, nonce8 string, ciphertext []byte) ([]byte, error) {
	return DecryptAndVerify(key32, nil, []byte(nonce8), ciphertext, nil)
}

// Encrypt seals pairing messages without additional data
func Encrypt(key32 []byte, nonce8 string, plaintext []byte) ([]byte, error) {
	return EncryptAndSeal(key32, nil, []byte(nonce8), plaintext, nil)
}

// Counter returns session nonce for frame number n
func Counter(n uint64) []byte {
	nonce := make([]byte, NonceSize)
	binary.LittleEndian.PutUint64(nonce, n)
	return nonce
}

func DecryptAndVerify(key32, dst, nonce8, ciphertext, aad []byte) ([]byte, error) {
	aead, nonce, err := newAEAD(key32, nonce8)
	if err != nil {
		return nil, err
	}
	return aead.Open(dst, nonce, ciphertext, aad)
}

func EncryptAndSeal(key32, dst, nonce8, plaintext, aad []byte) ([]byte, error) {
	aead, nonce, err := newAEAD(key32, nonce8)
	if err != nil {
		return nil, err
	}
	return aead.Seal(dst, nonce, plaintext, aad), nil
}

func newAEAD(key32, nonce8 []byte) (aead cipher.AEAD, nonce []byte, err error) {
	if len(key32) != KeySize || len(nonce8) != NonceSize {
		return nil, nil, ErrInvalidParams
	}

	if aead, err = chacha20poly1305.New(key32); err != nil {
		return nil, nil, err
	}

	// 96 bit nonce: 4 zero bytes and 64 bit value
	nonce = make([]byte, chacha20poly1305.NonceSize)
	copy(nonce[4:], nonce8)
	return
}
