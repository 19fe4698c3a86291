package community

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// Persisted keys. They are always written and removed together.
const (
	KeyAuthToken = "authToken"
	KeyUser      = "user"
)

// CredentialStore is the single owner of the session token and user snapshot.
// Token and user are only ever set or cleared together.
type CredentialStore struct {
	mu        sync.RWMutex
	backend   CredentialBackend
	session   Session
	logger    Logger
	now       Clock
	inspector TokenInspector

	listenersMu sync.Mutex
	listeners   map[int]func(Session)
	nextID      int
}

// StoreOption customizes a CredentialStore.
type StoreOption func(*CredentialStore)

// WithStoreLogger sets the store logger.
func WithStoreLogger(logger Logger) StoreOption {
	return func(s *CredentialStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStoreClock injects a custom clock (useful for tests).
func WithStoreClock(clock Clock) StoreOption {
	return func(s *CredentialStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithTokenInspector overrides how persisted tokens are checked on hydrate.
func WithTokenInspector(inspector TokenInspector) StoreOption {
	return func(s *CredentialStore) {
		if inspector != nil {
			s.inspector = inspector
		}
	}
}

// NewCredentialStore returns a store persisting through backend. The store
// starts empty until Hydrate is called.
func NewCredentialStore(backend CredentialBackend, opts ...StoreOption) *CredentialStore {
	s := &CredentialStore{
		backend:   backend,
		logger:    defLogger{},
		now:       time.Now,
		inspector: NewJWTInspector(),
		listeners: map[int]func(Session){},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Hydrate loads the persisted session. Incomplete, undecodable, expired or
// otherwise inconsistent state is removed from the backend and the store
// stays anonymous. It reports whether a session was restored.
func (s *CredentialStore) Hydrate(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.backend.Load(ctx)
	if errors.Is(err, ErrCorruptCredentials) {
		s.logger.Warn("discarding stored credentials: %v", err)
		s.session = Session{}
		if err := s.backend.Delete(ctx, KeyAuthToken, KeyUser); err != nil {
			return false, WrapError(err, KindServer, "unable to remove stored credentials")
		}
		return false, nil
	}
	if err != nil {
		s.session = Session{}
		return false, WrapError(err, KindServer, "unable to load stored credentials")
	}

	token, hasToken := values[KeyAuthToken]
	rawUser, hasUser := values[KeyUser]
	if !hasToken && !hasUser {
		s.session = Session{}
		return false, nil
	}

	session, reason := s.decode(token, rawUser)
	if reason != "" {
		s.logger.Warn("discarding stored credentials: %s", reason)
		s.session = Session{}
		if err := s.backend.Delete(ctx, KeyAuthToken, KeyUser); err != nil {
			return false, WrapError(err, KindServer, "unable to remove stored credentials")
		}
		return false, nil
	}

	s.session = session
	return true, nil
}

func (s *CredentialStore) decode(token, rawUser string) (Session, string) {
	if token == "" || rawUser == "" {
		return Session{}, "token and user must both be present"
	}

	var user User
	if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
		return Session{}, "user snapshot is not valid json"
	}
	if user.ID == "" {
		return Session{}, "user snapshot has no id"
	}

	claims, err := s.inspector.Inspect(token)
	if err != nil {
		return Session{}, "token is malformed"
	}
	if claims.Expired(s.now()) {
		return Session{}, "token expired"
	}
	if claims.Subject != "" && claims.Subject != user.ID {
		return Session{}, "token subject does not match user"
	}

	return Session{Token: token, User: user}, ""
}

// Set persists token and user in one write. On failure nothing changes.
func (s *CredentialStore) Set(ctx context.Context, token string, user User) error {
	session, err := s.set(ctx, token, user)
	if err != nil {
		return err
	}
	s.notify(session)
	return nil
}

// set persists the session without running listeners. Callers holding their
// own locks notify once those are released.
func (s *CredentialStore) set(ctx context.Context, token string, user User) (Session, error) {
	if token == "" || user.ID == "" {
		return Session{}, NewError(KindValidation, "a session requires both a token and a user")
	}

	raw, err := json.Marshal(user)
	if err != nil {
		return Session{}, WrapError(err, KindValidation, "unable to encode user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Save(ctx, map[string]string{
		KeyAuthToken: token,
		KeyUser:      string(raw),
	}); err != nil {
		return Session{}, WrapError(err, KindServer, "unable to persist credentials")
	}
	s.session = Session{Token: token, User: user}
	return s.session, nil
}

// ReplaceUser refreshes the user snapshot of the current session.
func (s *CredentialStore) ReplaceUser(ctx context.Context, user User) error {
	session, err := s.replaceUser(ctx, user)
	if err != nil {
		return err
	}
	s.notify(session)
	return nil
}

func (s *CredentialStore) replaceUser(ctx context.Context, user User) (Session, error) {
	raw, err := json.Marshal(user)
	if err != nil {
		return Session{}, WrapError(err, KindValidation, "unable to encode user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.session.Valid() {
		return Session{}, NewError(KindUnauthorized, "")
	}
	if user.ID != s.session.User.ID {
		return Session{}, NewError(KindValidation, "user does not belong to the current session")
	}
	token := s.session.Token
	if err := s.backend.Save(ctx, map[string]string{
		KeyAuthToken: token,
		KeyUser:      string(raw),
	}); err != nil {
		return Session{}, WrapError(err, KindServer, "unable to persist credentials")
	}
	s.session = Session{Token: token, User: user}
	return s.session, nil
}

// Clear removes token and user. Clearing an empty store is a no-op that still
// succeeds. The in-memory session is dropped even if the backend fails.
func (s *CredentialStore) Clear(ctx context.Context) error {
	had, err := s.clear(ctx)
	if had {
		s.notify(Session{})
	}
	return err
}

// clear drops the session without running listeners and reports whether one
// existed.
func (s *CredentialStore) clear(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	had := s.session.Valid()
	s.session = Session{}
	if err := s.backend.Delete(ctx, KeyAuthToken, KeyUser); err != nil {
		return had, WrapError(err, KindServer, "unable to remove stored credentials")
	}
	return had, nil
}

// Read returns the current session.
func (s *CredentialStore) Read() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, s.session.Valid()
}

// Token returns the bearer token, empty when anonymous.
func (s *CredentialStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Token
}

// User returns the user snapshot. It is only visible while a session exists.
func (s *CredentialStore) User() (User, bool) {
	session, ok := s.Read()
	if !ok {
		return User{}, false
	}
	return session.User, true
}

func (s *CredentialStore) IsAuthenticated() bool {
	_, ok := s.Read()
	return ok
}

// OnChange registers fn to run after every set and every clear that removed a
// session. A cleared store is reported as the zero Session. The returned
// function unsubscribes.
func (s *CredentialStore) OnChange(fn func(Session)) func() {
	if fn == nil {
		return func() {}
	}
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *CredentialStore) notify(session Session) {
	s.listenersMu.Lock()
	fns := make([]func(Session), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(session)
	}
}
