package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fastybird/hapbridge/pkg/hap"
	"github.com/stretchr/testify/require"
)

func TestPairings(t *testing.T) {
	store, err := Open(":memory:")
	require.Nil(t, err)
	defer store.Close()

	_, err = store.Get("unknown")
	require.ErrorIs(t, err, hap.ErrPairingNotFound)
	require.ErrorIs(t, store.Delete("unknown"), hap.ErrPairingNotFound)

	now := time.Now()
	admin := &hap.Pairing{ClientID: "admin", PublicKey: []byte{1, 2, 3}, Permissions: hap.PermissionAdmin, PairedAt: now}
	user := &hap.Pairing{ClientID: "user", PublicKey: []byte{4, 5, 6}, Permissions: hap.PermissionUser, PairedAt: now.Add(time.Second)}

	require.Nil(t, store.Put(user))
	require.Nil(t, store.Put(admin))

	pairing, err := store.Get("admin")
	require.Nil(t, err)
	require.Equal(t, admin.PublicKey, pairing.PublicKey)
	require.True(t, pairing.IsAdmin())
	require.True(t, now.Equal(pairing.PairedAt))

	// ordered by pairing time
	pairings, err := store.List()
	require.Nil(t, err)
	require.Len(t, pairings, 2)
	require.Equal(t, "admin", pairings[0].ClientID)
	require.Equal(t, "user", pairings[1].ClientID)

	// update permissions
	user.Permissions = hap.PermissionAdmin
	require.Nil(t, store.Put(user))
	pairing, err = store.Get("user")
	require.Nil(t, err)
	require.True(t, pairing.IsAdmin())

	require.Nil(t, store.Delete("user"))
	pairings, err = store.List()
	require.Nil(t, err)
	require.Len(t, pairings, 1)
}

func TestPairingsReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "hap.db")

	store, err := Open(path)
	require.Nil(t, err)
	require.Nil(t, store.Put(&hap.Pairing{ClientID: "admin", PublicKey: []byte{1}, Permissions: hap.PermissionAdmin}))
	require.Nil(t, store.Close())

	store, err = Open(path)
	require.Nil(t, err)
	defer store.Close()

	pairing, err := store.Get("admin")
	require.Nil(t, err)
	require.Equal(t, []byte{1}, pairing.PublicKey)
}

var _ hap.PairingStore = (*Pairings)(nil)
