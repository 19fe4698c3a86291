package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-community/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBackend(t *testing.T) *sqlite.Backend {
	t.Helper()
	b, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBackendUpsert(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	values, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, values)

	require.NoError(t, b.Save(ctx, map[string]string{"authToken": "t1", "user": `{"id":"u1"}`}))
	require.NoError(t, b.Save(ctx, map[string]string{"authToken": "t2"}))

	values, err = b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"authToken": "t2", "user": `{"id":"u1"}`}, values)

	count, err := b.DB().NewSelect().Model((*sqlite.StateModel)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestBackendDelete(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	require.NoError(t, b.Save(ctx, map[string]string{"authToken": "t1", "user": "{}", "theme": "dark"}))
	require.NoError(t, b.Delete(ctx, "authToken", "user", "missing"))
	require.NoError(t, b.Delete(ctx))

	values, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"theme": "dark"}, values)
}

func TestBackendPersistsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "client.db")

	first, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, map[string]string{"authToken": "t1"}))
	require.NoError(t, first.Close())

	second, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	values, err := second.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", values["authToken"])
}
