// Package file persists credential values as a JSON document on disk.
// Writes go to a temporary file that is renamed over the target, so a
// crash never leaves a half written document behind.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	community "github.com/goliatone/go-community"
)

const (
	fileMode = 0o600
	dirMode  = 0o700
)

// Backend stores credential values in a single JSON file.
type Backend struct {
	mu   sync.Mutex
	path string
}

// New returns a Backend writing to path. The parent directory is created on
// the first write.
func New(path string) *Backend {
	return &Backend{path: path}
}

// Path returns the backing file location.
func (b *Backend) Path() string {
	return b.path
}

// Load reads the stored values. A missing file is an empty store. A file
// that does not decode is reported as community.ErrCorruptCredentials.
func (b *Backend) Load(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.read()
}

// Save merges values into the document in one write. A corrupt document is
// replaced.
func (b *Backend) Save(ctx context.Context, values map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := b.readForWrite()
	if err != nil {
		return err
	}
	for k, v := range values {
		current[k] = v
	}
	return b.write(current)
}

// Delete removes keys in one write. The file is removed once it is empty,
// which is always the case for a corrupt document.
func (b *Backend) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := b.readForWrite()
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(current, k)
	}
	if len(current) == 0 {
		if err := os.Remove(b.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove credentials file: %w", err)
		}
		return nil
	}
	return b.write(current)
}

func (b *Backend) read() (map[string]string, error) {
	raw, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	values := map[string]string{}
	if len(raw) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode credentials file: %w: %w", community.ErrCorruptCredentials, err)
	}
	return values, nil
}

// readForWrite is read, except that nothing worth merging survives in a
// corrupt document.
func (b *Backend) readForWrite() (map[string]string, error) {
	values, err := b.read()
	if errors.Is(err, community.ErrCorruptCredentials) {
		return map[string]string{}, nil
	}
	return values, err
}

func (b *Backend) write(values map[string]string) error {
	raw, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp credentials file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp credentials file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp credentials file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp credentials file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("replace credentials file: %w", err)
	}
	return nil
}
