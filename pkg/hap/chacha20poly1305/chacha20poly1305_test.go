package chacha20poly1305

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncrypt(t *testing.T) {
	key := bytes.Repeat([]byte{7}, KeySize)

	b, err := Encrypt(key, "PS-Msg05", []byte("hello"))
	require.Nil(t, err)
	require.Len(t, b, 5+Overhead)

	msg, err := Decrypt(key, "PS-Msg05", b)
	require.Nil(t, err)
	require.Equal(t, []byte("hello"), msg)

	_, err = Decrypt(key, "PS-Msg06", b)
	require.NotNil(t, err)
}

func TestCounter(t *testing.T) {
	require.Equal(t, []byte{1, 0, 0, 0, 0, 0, 0, 0}, Counter(1))
	require.Equal(t, []byte{0, 1, 0, 0, 0, 0, 0, 0}, Counter(256))

	_, err := Encrypt([]byte{1}, "PS-Msg05", nil)
	require.ErrorIs(t, err, ErrInvalidParams)
}
