package memory_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-community/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackend(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	values, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, values)

	require.NoError(t, b.Save(ctx, map[string]string{"authToken": "t1", "user": "{}"}))
	require.NoError(t, b.Save(ctx, map[string]string{"authToken": "t2"}))

	values, err = b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"authToken": "t2", "user": "{}"}, values)

	values["authToken"] = "mutated"
	again, _ := b.Load(ctx)
	assert.Equal(t, "t2", again["authToken"], "load returns a copy")

	require.NoError(t, b.Delete(ctx, "authToken", "user", "missing"))
	values, _ = b.Load(ctx)
	assert.Empty(t, values)
}
