package hkdf

import (
	"crypto/sha512"
	"io"

	"golang.org/x/crypto/hkdf"
)

const KeySize = 32

// Sha512 derives 32 byte key with HKDF-SHA-512
func Sha512(key []byte, salt, info string) ([]byte, error) {
	r := hkdf.New(sha512.New, key, []byte(salt), []byte(info))

	buf := make([]byte, KeySize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	return buf, nil
}
