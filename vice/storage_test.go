package vice

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageCommon(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		store Storage
	}{
		{
			name:  "mem",
			store: NewMemStorage(),
		},
		{
			name:  "prefix",
			store: KeyPrefixStorage(NewMemStorage(), "session"),
		},
	}

	if !testing.Short() {
		dir := filepath.Join(t.TempDir(), "badger")
		badgerStorage, err := NewBadgerStorage(dir, BadgerOptions{MaxMemMB: 32})
		require.NoError(t, err)
		t.Cleanup(func() { _ = badgerStorage.Close() })

		tests = append(tests, struct {
			name  string
			store Storage
		}{
			name:  "badger",
			store: badgerStorage,
		})
	}

	for _, tc := range tests {
		t.Run(tc.name+"_put_clear", func(t *testing.T) {
			require.NoError(t, tc.store.Put("t1", []byte{1, 2, 3}))
			require.NoError(t, tc.store.Clear())

			keys, err := tc.store.Keys()
			require.NoError(t, err)
			assert.Empty(t, keys)
		})

		t.Run(tc.name+"_put_get_delete", func(t *testing.T) {
			require.NoError(t, tc.store.Clear())
			data := []byte{1, 0, 3} // embedded NUL

			require.NoError(t, tc.store.Put("t1", data))
			got, ok, err := tc.store.Get("t1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, data, got)

			require.NoError(t, tc.store.Delete("t1"))
			_, ok, err = tc.store.Get("t1")
			require.NoError(t, err)
			assert.False(t, ok)
		})

		t.Run(tc.name+"_keys_sorted", func(t *testing.T) {
			require.NoError(t, tc.store.Clear())

			require.NoError(t, tc.store.Put("b:1", []byte{3}))
			require.NoError(t, tc.store.Put("a:2", []byte{2}))
			require.NoError(t, tc.store.Put("a:1", []byte{1}))

			keys, err := tc.store.Keys()
			require.NoError(t, err)
			assert.Equal(t, []string{"a:1", "a:2", "b:1"}, keys)

			keys, err = tc.store.KeysWithPrefix("a:")
			require.NoError(t, err)
			assert.Equal(t, []string{"a:1", "a:2"}, keys)
		})

		t.Run(tc.name+"_returned_blob_detached", func(t *testing.T) {
			require.NoError(t, tc.store.Clear())
			want := make([]byte, 1024)
			for i := range want {
				want[i] = byte(i % 251)
			}
			require.NoError(t, tc.store.Put("live", want))

			got, ok, err := tc.store.Get("live")
			require.NoError(t, err)
			require.True(t, ok)
			got[0] = 0xFF
			require.NoError(t, tc.store.Put("other", []byte{1}))

			again, _, err := tc.store.Get("live")
			require.NoError(t, err)
			assert.Equal(t, want, again)
		})
	}
}

func TestKeyPrefixStorageIsolation(t *testing.T) {
	t.Parallel()

	shared := NewMemStorage()
	a := KeyPrefixStorage(shared, "a")
	b := KeyPrefixStorage(shared, "b")
	assert.Same(t, shared, KeyPrefixStorage(shared, ""))

	require.NoError(t, a.Put("k", []byte{1}))
	require.NoError(t, b.Put("k", []byte{2}))

	got, ok, err := a.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1}, got)

	require.NoError(t, a.Clear())
	keys, err := shared.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"b/k"}, keys)
}

func TestBadgerStorageTemporary(t *testing.T) {
	if testing.Short() {
		t.Skip("skip in short mode")
	}
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db")
	store, err := NewBadgerStorage(path, BadgerOptions{Temporary: true})
	require.NoError(t, err)
	require.NoError(t, store.Put("k", []byte("v")))

	entries, err := os.ReadDir(path)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	require.NoError(t, store.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestBadgerStorageReopen(t *testing.T) {
	if testing.Short() {
		t.Skip("skip in short mode")
	}
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db")
	store, err := NewBadgerStorage(path, BadgerOptions{})
	require.NoError(t, err)
	require.NoError(t, store.Put("k", []byte("v")))
	require.NoError(t, store.Close())

	store, err = NewBadgerStorage(path, BadgerOptions{})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	got, ok, err := store.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}
