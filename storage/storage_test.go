package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	community "github.com/goliatone/go-community"
	"github.com/goliatone/go-community/storage"
	"github.com/goliatone/go-community/storage/file"
	"github.com/goliatone/go-community/storage/memory"
	"github.com/goliatone/go-community/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configFor(driver, path string) community.Config {
	cfg := community.DefaultConfig()
	cfg.StorageDriver = driver
	cfg.StoragePath = path
	return cfg
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name   string
		driver string
		check  func(t *testing.T, b community.CredentialBackend)
	}{
		{
			name:   "memory",
			driver: community.StorageMemory,
			check: func(t *testing.T, b community.CredentialBackend) {
				assert.IsType(t, &memory.Backend{}, b)
			},
		},
		{
			name:   "file",
			driver: community.StorageFile,
			check: func(t *testing.T, b community.CredentialBackend) {
				require.IsType(t, &file.Backend{}, b)
				assert.Equal(t, filepath.Join(dir, "credentials.json"), b.(*file.Backend).Path())
			},
		},
		{
			name:   "empty driver is file",
			driver: "",
			check: func(t *testing.T, b community.CredentialBackend) {
				assert.IsType(t, &file.Backend{}, b)
			},
		},
		{
			name:   "sqlite",
			driver: community.StorageSQLite,
			check: func(t *testing.T, b community.CredentialBackend) {
				assert.IsType(t, &sqlite.Backend{}, b)
				_, err := os.Stat(filepath.Join(dir, "credentials.db"))
				assert.NoError(t, err, "a .json path is stored next to it as .db")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, closer, err := storage.Open(ctx, configFor(tt.driver, filepath.Join(dir, "credentials.json")))
			require.NoError(t, err)
			t.Cleanup(func() { _ = closer.Close() })

			tt.check(t, backend)

			require.NoError(t, backend.Save(ctx, map[string]string{community.KeyAuthToken: "t1"}))
			values, err := backend.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, "t1", values[community.KeyAuthToken])
			require.NoError(t, backend.Delete(ctx, community.KeyAuthToken))
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, _, err := storage.Open(context.Background(), configFor("redis", ""))
	require.Error(t, err)
	assert.True(t, community.IsValidation(err))
}
