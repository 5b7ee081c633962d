package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeyProvider(t *testing.T) {
	tests := []struct {
		name   string
		testFn func(t *testing.T, provider *FileKeyProvider)
	}{
		{
			name: "KeyExists returns false when no key file",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				assert.False(t, provider.KeyExists())
			},
		},
		{
			name: "StoreKey writes an owner-only file",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				require.NoError(t, provider.StoreKey(make([]byte, keySize)))

				info, err := os.Stat(provider.keyPath)
				require.NoError(t, err)
				assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
			},
		},
		{
			name: "GetKey round-trips the stored key",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				key := []byte("0123456789abcdef0123456789abcdef")
				require.NoError(t, provider.StoreKey(key))

				got, err := provider.GetKey()
				require.NoError(t, err)
				assert.Equal(t, key, got)
			},
		},
		{
			name: "GetKey fails without a key file",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				_, err := provider.GetKey()
				assert.Error(t, err)
			},
		},
		{
			name: "StoreKey rejects wrong key size",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				err := provider.StoreKey([]byte("tooshort"))
				require.Error(t, err)
				assert.Contains(t, err.Error(), "must be 32 bytes")
			},
		},
		{
			name: "GetKey refuses a world-readable key",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				require.NoError(t, provider.StoreKey(make([]byte, keySize)))
				require.NoError(t, os.Chmod(provider.keyPath, 0o644))

				_, err := provider.GetKey()
				require.Error(t, err)
				assert.Contains(t, err.Error(), "accessible by other users")
			},
		},
		{
			name: "GetKey rejects garbage",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				require.NoError(t, os.WriteFile(provider.keyPath, []byte("not-hex"), 0o600))

				_, err := provider.GetKey()
				assert.Error(t, err)
			},
		},
		{
			name: "StoreKey replaces a key without leaving temp files",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				first := make([]byte, keySize)
				second := make([]byte, keySize)
				second[0] = 0xff
				require.NoError(t, provider.StoreKey(first))
				require.NoError(t, provider.StoreKey(second))

				got, err := provider.GetKey()
				require.NoError(t, err)
				assert.Equal(t, second, got)

				entries, err := os.ReadDir(filepath.Dir(provider.keyPath))
				require.NoError(t, err)
				assert.Len(t, entries, 1)
			},
		},
		{
			name: "StoreKey creates missing directories",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				provider.keyPath = filepath.Join(filepath.Dir(provider.keyPath), "a", "b", keyFileName)

				require.NoError(t, provider.StoreKey(make([]byte, keySize)))
				assert.True(t, provider.KeyExists())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.testFn(t, NewFileKeyProvider(t.TempDir()))
		})
	}
}

func TestEnsureKey(t *testing.T) {
	t.Run("generates a key on first use", func(t *testing.T) {
		provider := NewFileKeyProvider(t.TempDir())

		key, err := EnsureKey(provider)
		require.NoError(t, err)
		assert.Len(t, key, keySize)
		assert.True(t, provider.KeyExists())
	})

	t.Run("returns the existing key", func(t *testing.T) {
		provider := NewFileKeyProvider(t.TempDir())
		first, err := EnsureKey(provider)
		require.NoError(t, err)

		second, err := EnsureKey(provider)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}
