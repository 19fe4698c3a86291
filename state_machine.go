package community

import (
	"context"
	"time"
)

// SessionState is where the session manager currently is.
type SessionState string

const (
	StateAnonymous           SessionState = "anonymous"
	StatePendingVerification SessionState = "pending_verification"
	StateAuthenticated       SessionState = "authenticated"
)

// IsAuthenticated reports whether the state carries a session.
func (s SessionState) IsAuthenticated() bool {
	return s == StateAuthenticated
}

// SessionTrigger names the operation that drives a transition.
type SessionTrigger string

const (
	TriggerHydrate    SessionTrigger = "hydrate"
	TriggerLogin      SessionTrigger = "login"
	TriggerRegister   SessionTrigger = "register"
	TriggerVerify     SessionTrigger = "verify"
	TriggerResend     SessionTrigger = "resend"
	TriggerLogout     SessionTrigger = "logout"
	TriggerAbandon    SessionTrigger = "abandon"
	TriggerInvalidate SessionTrigger = "invalidate"
)

// TransitionContext is passed into hooks after a state change.
type TransitionContext struct {
	From     SessionState
	To       SessionState
	Trigger  SessionTrigger
	Email    string
	UserID   string
	At       time.Time
	Metadata map[string]any
}

// TransitionHook runs after a transition has been applied.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// HookErrorHandler handles errors surfaced by transition hooks. The
// transition has already happened when it runs.
type HookErrorHandler func(ctx context.Context, err error, tc TransitionContext)

type sessionMachine struct {
	transitions      map[SessionState]map[SessionState]struct{}
	operations       map[SessionState]map[SessionTrigger]struct{}
	hooks            []TransitionHook
	hookErrorHandler HookErrorHandler
	now              Clock
	logger           Logger
}

func newSessionMachine(now Clock, logger Logger, hooks []TransitionHook, handler HookErrorHandler) *sessionMachine {
	sm := &sessionMachine{
		transitions: map[SessionState]map[SessionState]struct{}{
			StateAnonymous: {
				StateAuthenticated:       {},
				StatePendingVerification: {},
			},
			StatePendingVerification: {
				StatePendingVerification: {},
				StateAuthenticated:       {},
				StateAnonymous:           {},
			},
			StateAuthenticated: {
				StateAnonymous: {},
			},
		},
		operations: map[SessionState]map[SessionTrigger]struct{}{
			StateAnonymous: {
				TriggerHydrate:  {},
				TriggerLogin:    {},
				TriggerRegister: {},
				TriggerResend:   {},
			},
			StatePendingVerification: {
				TriggerLogin:    {},
				TriggerRegister: {},
				TriggerVerify:   {},
				TriggerResend:   {},
				TriggerAbandon:  {},
			},
			StateAuthenticated: {
				TriggerLogout:     {},
				TriggerInvalidate: {},
			},
		},
		hooks:  hooks,
		now:    now,
		logger: logger,
	}
	sm.hookErrorHandler = handler
	if sm.hookErrorHandler == nil {
		sm.hookErrorHandler = func(_ context.Context, err error, tc TransitionContext) {
			sm.logger.Error("session transition hook failed: %v from=%s to=%s trigger=%s", err, tc.From, tc.To, tc.Trigger)
		}
	}
	return sm
}

// allow checks trigger may start from state, before any network call.
func (sm *sessionMachine) allow(from SessionState, trigger SessionTrigger) error {
	if allowed, ok := sm.operations[from]; ok {
		if _, exists := allowed[trigger]; exists {
			return nil
		}
	}
	return NewError(KindInvalidTransition, "").WithMetadata(map[string]any{
		"state":   from,
		"trigger": trigger,
	})
}

func (sm *sessionMachine) canTransition(from, to SessionState) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

// check validates the edge. A self edge the table does not list is reported
// as unchanged.
func (sm *sessionMachine) check(from, to SessionState, trigger SessionTrigger) (changed bool, err error) {
	if from == to && !sm.canTransition(from, to) {
		return false, nil
	}
	if !sm.canTransition(from, to) {
		return false, NewError(KindInvalidTransition, "").WithMetadata(map[string]any{
			"from":    from,
			"to":      to,
			"trigger": trigger,
		})
	}
	return true, nil
}

// runHooks must be called without holding the manager lock.
func (sm *sessionMachine) runHooks(ctx context.Context, tc TransitionContext) {
	if tc.At.IsZero() {
		tc.At = sm.now()
	}
	for _, hook := range sm.hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, tc); err != nil {
			sm.hookErrorHandler(ctx, err, tc)
		}
	}
}
