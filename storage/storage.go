// Package storage selects a credential backend from configuration.
package storage

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	community "github.com/goliatone/go-community"
	"github.com/goliatone/go-community/storage/file"
	"github.com/goliatone/go-community/storage/memory"
	"github.com/goliatone/go-community/storage/sqlite"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open returns the backend named by cfg.StorageDriver and a closer to
// release it.
func Open(ctx context.Context, cfg community.Config) (community.CredentialBackend, io.Closer, error) {
	switch cfg.StorageDriver {
	case community.StorageMemory:
		return memory.New(), nopCloser{}, nil
	case community.StorageSQLite:
		path := cfg.StoragePath
		if strings.EqualFold(filepath.Ext(path), ".json") {
			path = strings.TrimSuffix(path, filepath.Ext(path)) + ".db"
		}
		b, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, nil, community.WrapError(err, community.KindServer, "unable to open credential database")
		}
		return b, b, nil
	case community.StorageFile, "":
		return file.New(cfg.StoragePath), nopCloser{}, nil
	}
	return nil, nil, community.NewError(community.KindValidation, "unknown storage driver "+cfg.StorageDriver)
}
