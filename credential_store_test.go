package community_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	community "github.com/goliatone/go-community"
	"github.com/goliatone/go-community/storage/memory"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testUser = community.User{ID: "user-1", Name: "Ada", Email: "ada@example.com", Username: "ada_user"}

func storedUser(t *testing.T, user community.User) string {
	t.Helper()
	raw, err := json.Marshal(user)
	require.NoError(t, err)
	return string(raw)
}

func TestCredentialStoreSetPersistsBothKeys(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	store := community.NewCredentialStore(backend, community.WithStoreLogger(community.NopLogger()))

	require.NoError(t, store.Set(ctx, "token-1", testUser))

	session, ok := store.Read()
	require.True(t, ok)
	assert.Equal(t, "token-1", session.Token)
	assert.Equal(t, testUser, session.User)
	assert.Equal(t, "token-1", store.Token())

	values, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", values[community.KeyAuthToken])
	assert.JSONEq(t, storedUser(t, testUser), values[community.KeyUser])
}

func TestCredentialStoreHydrateRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	first := community.NewCredentialStore(backend)
	require.NoError(t, first.Set(ctx, "token-1", testUser))

	second := community.NewCredentialStore(backend)
	restored, err := second.Hydrate(ctx)
	require.NoError(t, err)
	assert.True(t, restored)

	user, ok := second.User()
	require.True(t, ok)
	assert.Equal(t, testUser.Email, user.Email)
}

func TestCredentialStoreHydrateEmpty(t *testing.T) {
	store := community.NewCredentialStore(memory.New())

	restored, err := store.Hydrate(context.Background())
	require.NoError(t, err)
	assert.False(t, restored)
	assert.False(t, store.IsAuthenticated())
	_, ok := store.User()
	assert.False(t, ok)
}

func TestCredentialStoreHydrateDiscardsInconsistentState(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expired := signToken(t, jwt.MapClaims{"sub": testUser.ID, "exp": now.Add(-time.Minute).Unix()})
	foreign := signToken(t, jwt.MapClaims{"sub": "someone-else", "exp": now.Add(time.Hour).Unix()})

	tests := []struct {
		name   string
		values map[string]string
	}{
		{"token without user", map[string]string{community.KeyAuthToken: "token-1"}},
		{"user without token", map[string]string{community.KeyUser: storedUser(t, testUser)}},
		{"user is not json", map[string]string{community.KeyAuthToken: "token-1", community.KeyUser: "{nope"}},
		{"user has no id", map[string]string{community.KeyAuthToken: "token-1", community.KeyUser: `{"email":"a@b.co"}`}},
		{"malformed jwt", map[string]string{community.KeyAuthToken: "a.b.c", community.KeyUser: storedUser(t, testUser)}},
		{"expired jwt", map[string]string{community.KeyAuthToken: expired, community.KeyUser: storedUser(t, testUser)}},
		{"subject mismatch", map[string]string{community.KeyAuthToken: foreign, community.KeyUser: storedUser(t, testUser)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			backend := memory.New()
			require.NoError(t, backend.Save(ctx, tt.values))

			store := community.NewCredentialStore(backend,
				community.WithStoreLogger(community.NopLogger()),
				community.WithStoreClock(fixedClock(now)),
			)
			restored, err := store.Hydrate(ctx)
			require.NoError(t, err)
			assert.False(t, restored)
			assert.False(t, store.IsAuthenticated())

			left, err := backend.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, left, "both keys are removed")
		})
	}
}

func TestCredentialStoreHydrateValidJWT(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token := signToken(t, jwt.MapClaims{"sub": testUser.ID, "exp": now.Add(time.Hour).Unix()})

	backend := memory.New()
	require.NoError(t, backend.Save(ctx, map[string]string{
		community.KeyAuthToken: token,
		community.KeyUser:      storedUser(t, testUser),
	}))

	store := community.NewCredentialStore(backend, community.WithStoreClock(fixedClock(now)))
	restored, err := store.Hydrate(ctx)
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, token, store.Token())
}

func TestCredentialStoreLoadFailure(t *testing.T) {
	backend := &MockBackend{}
	backend.On("Load", mock.Anything).Return(nil, errors.New("disk on fire")).Once()

	store := community.NewCredentialStore(backend)
	restored, err := store.Hydrate(context.Background())
	require.Error(t, err)
	assert.False(t, restored)
	assert.Equal(t, community.KindServer, community.KindOf(err))
	backend.AssertExpectations(t)
}

func TestCredentialStoreDiscardsCorruptBackend(t *testing.T) {
	backend := &MockBackend{}
	backend.On("Load", mock.Anything).
		Return(nil, fmt.Errorf("decode: %w", community.ErrCorruptCredentials)).Once()
	backend.On("Delete", mock.Anything, []string{community.KeyAuthToken, community.KeyUser}).
		Return(nil).Once()

	store := community.NewCredentialStore(backend, community.WithStoreLogger(community.NopLogger()))
	restored, err := store.Hydrate(context.Background())
	require.NoError(t, err)
	assert.False(t, restored)
	assert.False(t, store.IsAuthenticated())
	backend.AssertExpectations(t)
}

func TestCredentialStoreSetFailureKeepsPreviousSession(t *testing.T) {
	ctx := context.Background()
	backend := &MockBackend{}
	backend.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
	backend.On("Save", mock.Anything, mock.Anything).Return(errors.New("quota exceeded")).Once()

	store := community.NewCredentialStore(backend)
	require.NoError(t, store.Set(ctx, "token-1", testUser))

	other := community.User{ID: "user-2", Email: "grace@example.com"}
	err := store.Set(ctx, "token-2", other)
	require.Error(t, err)
	assert.Equal(t, community.KindServer, community.KindOf(err))

	session, ok := store.Read()
	require.True(t, ok)
	assert.Equal(t, "token-1", session.Token)
	assert.Equal(t, testUser.ID, session.User.ID)
	backend.AssertExpectations(t)
}

func TestCredentialStoreSetRequiresTokenAndUser(t *testing.T) {
	ctx := context.Background()
	store := community.NewCredentialStore(memory.New())

	assert.True(t, community.IsValidation(store.Set(ctx, "", testUser)))
	assert.True(t, community.IsValidation(store.Set(ctx, "token", community.User{})))
	assert.False(t, store.IsAuthenticated())
}

func TestCredentialStoreClear(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	store := community.NewCredentialStore(backend)
	require.NoError(t, store.Set(ctx, "token-1", testUser))

	require.NoError(t, store.Clear(ctx))
	assert.False(t, store.IsAuthenticated())
	assert.Empty(t, store.Token())

	values, _ := backend.Load(ctx)
	assert.Empty(t, values)

	require.NoError(t, store.Clear(ctx), "clearing twice is fine")
}

func TestCredentialStoreClearBackendFailure(t *testing.T) {
	ctx := context.Background()
	backend := &MockBackend{}
	backend.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
	backend.On("Delete", mock.Anything, []string{community.KeyAuthToken, community.KeyUser}).
		Return(errors.New("read only")).Once()

	store := community.NewCredentialStore(backend)
	require.NoError(t, store.Set(ctx, "token-1", testUser))

	err := store.Clear(ctx)
	require.Error(t, err)
	assert.False(t, store.IsAuthenticated(), "memory is cleared even when the backend fails")
	backend.AssertExpectations(t)
}

func TestCredentialStoreReplaceUser(t *testing.T) {
	ctx := context.Background()
	store := community.NewCredentialStore(memory.New())

	assert.True(t, community.IsUnauthorized(store.ReplaceUser(ctx, testUser)))

	require.NoError(t, store.Set(ctx, "token-1", testUser))

	renamed := testUser
	renamed.Name = "Ada Lovelace"
	require.NoError(t, store.ReplaceUser(ctx, renamed))
	user, _ := store.User()
	assert.Equal(t, "Ada Lovelace", user.Name)
	assert.Equal(t, "token-1", store.Token())

	assert.True(t, community.IsValidation(store.ReplaceUser(ctx, community.User{ID: "user-2"})))
}

func TestCredentialStoreOnChange(t *testing.T) {
	ctx := context.Background()
	store := community.NewCredentialStore(memory.New())

	var seen []community.Session
	unsubscribe := store.OnChange(func(s community.Session) { seen = append(seen, s) })

	require.NoError(t, store.Set(ctx, "token-1", testUser))
	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx))

	require.Len(t, seen, 2, "a clear without a session does not notify")
	assert.Equal(t, "token-1", seen[0].Token)
	assert.False(t, seen[1].Valid())

	unsubscribe()
	require.NoError(t, store.Set(ctx, "token-2", testUser))
	assert.Len(t, seen, 2)
}
