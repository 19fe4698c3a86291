package community

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityLoginSuccess         ActivityEventType = "auth.login.success"
	ActivityLoginFailure         ActivityEventType = "auth.login.failure"
	ActivityRegistered           ActivityEventType = "auth.register"
	ActivityVerifySuccess        ActivityEventType = "auth.verify.success"
	ActivityVerifyFailure        ActivityEventType = "auth.verify.failure"
	ActivityOTPResent            ActivityEventType = "auth.otp.resent"
	ActivityLogout               ActivityEventType = "auth.logout"
	ActivitySessionInvalidated   ActivityEventType = "auth.session.invalidated"
	ActivityEventRegistered      ActivityEventType = "event.registration.created"
	ActivityEventRegisterFailed  ActivityEventType = "event.registration.failed"
	ActivityEventRegistrationOff ActivityEventType = "event.registration.cancelled"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Email      string
	EventID    string
	FromState  SessionState
	ToState    SessionState
	Kind       ErrorKind
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity emits event on sink; failures are logged and swallowed.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, now Clock, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now()
	}
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		normalizeLogger(logger).Warn("activity sink record error: %v", err)
	}
}
