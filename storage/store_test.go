package storage_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pcd/fids-session/storage"
)

func openStore(t *testing.T) *storage.FileStore {
	t.Helper()
	store, err := storage.OpenFileStore(t.TempDir(), "test-passphrase")
	require.NoError(t, err)
	return store
}

func TestRoundTrip(t *testing.T) {
	store := openStore(t)

	require.NoError(t, store.SetItem("token", "eyJhbGciOiJIUzI1NiJ9.payload.sig"))
	value, ok := store.GetItem("token")
	require.True(t, ok)
	require.Equal(t, "eyJhbGciOiJIUzI1NiJ9.payload.sig", value)
}

func TestRoundTripSerializedObject(t *testing.T) {
	store := openStore(t)

	serialized, err := json.Marshal(map[string]any{"id": "user-1", "roles": []string{"ROLE_EXPERT"}})
	require.NoError(t, err)

	require.NoError(t, store.SetItem("userData", string(serialized)))
	value, ok := store.GetItem("userData")
	require.True(t, ok)
	require.JSONEq(t, string(serialized), value)
}

func TestRemoveThenGetReturnsAbsent(t *testing.T) {
	store := openStore(t)

	require.NoError(t, store.SetItem("refreshToken", "abc"))
	require.NoError(t, store.RemoveItem("refreshToken"))

	_, ok := store.GetItem("refreshToken")
	require.False(t, ok)

	// Removing a missing key is not an error.
	require.NoError(t, store.RemoveItem("refreshToken"))
}

func TestClearKeepsSalt(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.OpenFileStore(dir, "test-passphrase")
	require.NoError(t, err)

	require.NoError(t, store.SetItem("token", "a"))
	require.NoError(t, store.SetItem("roles", "b"))
	require.NoError(t, store.Clear())

	_, ok := store.GetItem("token")
	require.False(t, ok)
	_, ok = store.GetItem("roles")
	require.False(t, ok)

	// Reopening with the same passphrase still works after Clear.
	reopened, err := storage.OpenFileStore(dir, "test-passphrase")
	require.NoError(t, err)
	require.NoError(t, reopened.SetItem("token", "c"))
	value, ok := reopened.GetItem("token")
	require.True(t, ok)
	require.Equal(t, "c", value)
}

func TestValuesAreEncryptedOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.OpenFileStore(dir, "test-passphrase")
	require.NoError(t, err)
	require.NoError(t, store.SetItem("token", "super-secret-token"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		require.NoError(t, err)
		require.NotContains(t, string(raw), "super-secret-token")
	}
}

func TestWrongPassphraseDropsEntries(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.OpenFileStore(dir, "correct-passphrase")
	require.NoError(t, err)
	require.NoError(t, store.SetItem("token", "value"))

	other, err := storage.OpenFileStore(dir, "wrong-passphrase")
	require.NoError(t, err)

	_, ok := other.GetItem("token")
	require.False(t, ok)
}

func TestEmptyPassphraseRejected(t *testing.T) {
	_, err := storage.OpenFileStore(t.TempDir(), "")
	require.ErrorIs(t, err, storage.ErrEmptyPassphrase)
}
