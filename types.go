package community

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Gateway is the platform API consumed by the session manager, the
// registration coordinator and the event catalog.
type Gateway interface {
	Login(ctx context.Context, req LoginRequest) (AuthResult, error)
	Register(ctx context.Context, req RegisterRequest) (RegisterResult, error)
	VerifyEmail(ctx context.Context, req VerifyRequest) (AuthResult, error)
	ResendOTP(ctx context.Context, req ResendRequest) error
	Logout(ctx context.Context) error
	Me(ctx context.Context) (User, error)
	ListEvents(ctx context.Context, filters EventFilters) (EventPage, error)
	GetEvent(ctx context.Context, eventID string) (Event, error)
	RegisterForEvent(ctx context.Context, eventID string, data RegistrationData) (EventRegistration, error)
	CancelRegistration(ctx context.Context, eventID string) error
	UserRegistrations(ctx context.Context, userID string) ([]EventRegistration, error)
}

// ErrCorruptCredentials is wrapped by backends whose persisted document can
// no longer be decoded. Save and Delete replace such a document.
var ErrCorruptCredentials = errors.New("stored credentials are corrupt")

// CredentialBackend persists the client key/value state. Save and Delete
// must apply all given keys or none.
type CredentialBackend interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

// EventTracker receives events observed on read paths so write paths can
// check the last known capacity.
type EventTracker interface {
	Track(events ...Event)
}

// Clock returns the current time.
type Clock func() time.Time

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] COMMUNITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] COMMUNITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] COMMUNITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] COMMUNITY "+newline(format), args...)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger discards everything.
func NopLogger() Logger {
	return nopLogger{}
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
