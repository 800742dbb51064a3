package hkdf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSha512(t *testing.T) {
	shared := []byte("0123456789abcdef0123456789abcdef")

	read, err := Sha512(shared, "Control-Salt", "Control-Read-Encryption-Key")
	require.Nil(t, err)
	require.Len(t, read, KeySize)

	write, err := Sha512(shared, "Control-Salt", "Control-Write-Encryption-Key")
	require.Nil(t, err)
	require.NotEqual(t, read, write)

	again, err := Sha512(shared, "Control-Salt", "Control-Read-Encryption-Key")
	require.Nil(t, err)
	require.Equal(t, read, again)
}
