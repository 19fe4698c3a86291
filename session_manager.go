package community

import (
	"context"
	"strings"
	"sync"
	"time"
)

// SessionManager drives login, registration, email verification, code resend
// and logout on top of a Gateway and a CredentialStore. It never retries and
// never holds its lock across a network call.
type SessionManager struct {
	mu      sync.Mutex
	gateway Gateway
	store   *CredentialStore
	cfg     Config

	machine   *sessionMachine
	countdown *Countdown
	state     SessionState
	pending   *PendingVerification
	closed    bool

	logger           Logger
	activitySink     ActivitySink
	now              Clock
	hooks            []TransitionHook
	hookErrorHandler HookErrorHandler
	countdownOpts    []CountdownOption
}

// ManagerOption customizes a SessionManager.
type ManagerOption func(*SessionManager)

// WithManagerLogger sets the manager logger.
func WithManagerLogger(logger Logger) ManagerOption {
	return func(m *SessionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerClock injects a custom clock (useful for tests).
func WithManagerClock(clock Clock) ManagerOption {
	return func(m *SessionManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithActivitySink sets the ActivitySink used to publish session events.
func WithActivitySink(sink ActivitySink) ManagerOption {
	return func(m *SessionManager) {
		m.activitySink = normalizeActivitySink(sink)
	}
}

// WithTransitionHook adds a hook executed after every state change.
func WithTransitionHook(h TransitionHook) ManagerOption {
	return func(m *SessionManager) {
		if h != nil {
			m.hooks = append(m.hooks, h)
		}
	}
}

// WithHookErrorHandler overrides how hook failures are reported.
func WithHookErrorHandler(handler HookErrorHandler) ManagerOption {
	return func(m *SessionManager) {
		m.hookErrorHandler = handler
	}
}

// WithCountdownOptions configures the verification countdown.
func WithCountdownOptions(opts ...CountdownOption) ManagerOption {
	return func(m *SessionManager) {
		m.countdownOpts = append(m.countdownOpts, opts...)
	}
}

// NewSessionManager returns a manager in the Anonymous state. Call Hydrate
// to restore a persisted session.
func NewSessionManager(gateway Gateway, store *CredentialStore, cfg Config, opts ...ManagerOption) *SessionManager {
	m := &SessionManager{
		gateway:      gateway,
		store:        store,
		cfg:          cfg,
		state:        StateAnonymous,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.machine = newSessionMachine(m.now, m.logger, m.hooks, m.hookErrorHandler)
	m.countdown = NewCountdown(cfg.OTPWindow, cfg.OTPTick, m.countdownOpts...)
	return m
}

// Hydrate restores a persisted session, if any, and returns the resulting state.
func (m *SessionManager) Hydrate(ctx context.Context) (SessionState, error) {
	if _, err := m.store.Hydrate(ctx); err != nil {
		return m.State(), err
	}

	m.mu.Lock()
	changes := m.reconcileLocked()
	state := m.state
	m.mu.Unlock()

	m.emit(ctx, changes)
	return state, nil
}

// State returns the current state. A session cleared underneath the manager,
// for example after a 401, is reported as Anonymous.
func (m *SessionManager) State() SessionState {
	m.mu.Lock()
	changes := m.reconcileLocked()
	state := m.state
	m.mu.Unlock()

	m.emit(context.Background(), changes)
	return state
}

// IsAuthenticated reports whether a session is active.
func (m *SessionManager) IsAuthenticated() bool {
	return m.State().IsAuthenticated()
}

// User returns the session user. It is only visible while a session exists.
func (m *SessionManager) User() (User, bool) {
	return m.store.User()
}

// Pending returns the verification awaiting a code.
func (m *SessionManager) Pending() (PendingVerification, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil || m.state != StatePendingVerification {
		return PendingVerification{}, false
	}
	p := *m.pending
	p.Remaining = m.countdown.Remaining()
	return p, true
}

// Countdown exposes the verification timer for display.
func (m *SessionManager) Countdown() *Countdown {
	return m.countdown
}

// Login authenticates with email and password. On success token and user
// are persisted together.
func (m *SessionManager) Login(ctx context.Context, email, password string) (User, error) {
	req := LoginRequest{Email: normalizeEmail(email), Password: password}
	if err := req.Validate(); err != nil {
		return User{}, validationError(err, "invalid login")
	}

	if err := m.begin(ctx, TriggerLogin); err != nil {
		return User{}, err
	}

	res, err := m.gateway.Login(ctx, req)
	if err != nil {
		if IsUnauthorized(err) {
			err = WrapError(err, KindInvalidCredentials, "")
		}
		m.record(ctx, ActivityEvent{
			EventType: ActivityLoginFailure,
			Email:     req.Email,
			Kind:      KindOf(err),
		})
		return User{}, err
	}

	if res.Token == "" || res.User == nil || res.User.ID == "" {
		return User{}, NewError(KindServer, "login response is missing the token or the user")
	}

	if err := m.authenticate(ctx, TriggerLogin, res.Token, *res.User); err != nil {
		return User{}, err
	}

	m.record(ctx, ActivityEvent{
		EventType: ActivityLoginSuccess,
		UserID:    res.User.ID,
		Email:     req.Email,
		ToState:   StateAuthenticated,
	})
	return *res.User, nil
}

// Register creates an account. The username is derived from the email when
// empty. No token is ever persisted by registration.
func (m *SessionManager) Register(ctx context.Context, profile RegistrationProfile) (RegisterResult, error) {
	profile.Email = normalizeEmail(profile.Email)
	profile.Name = strings.TrimSpace(profile.Name)
	profile.Username = strings.TrimSpace(profile.Username)
	rules := UsernameRules{
		MinLength: m.cfg.UsernameMinLength,
		MaxLength: m.cfg.UsernameMaxLength,
		Suffix:    m.cfg.UsernameSuffix,
	}
	if err := profile.Validate(m.cfg.PasswordMinLength, rules); err != nil {
		return RegisterResult{}, validationError(err, "invalid registration")
	}

	username := strings.ToLower(profile.Username)
	if username == "" {
		username = DeriveUsername(profile.Email, rules)
	}

	if err := m.begin(ctx, TriggerRegister); err != nil {
		return RegisterResult{}, err
	}

	res, err := m.gateway.Register(ctx, RegisterRequest{
		Name:     profile.Name,
		Email:    profile.Email,
		Password: profile.Password,
		Username: username,
	})
	if err != nil {
		m.logger.Debug("register %s failed: %v", profile.Email, err)
		return RegisterResult{}, err
	}

	if !res.RequiresVerification {
		m.logger.Info("registration for %s needs no verification, login to continue", profile.Email)
		return res, nil
	}

	if err := m.startPending(ctx, TriggerRegister, profile.Email, PurposeEmailVerification); err != nil {
		return RegisterResult{}, err
	}

	userID := ""
	if res.User != nil {
		userID = res.User.ID
	}
	m.record(ctx, ActivityEvent{
		EventType: ActivityRegistered,
		UserID:    userID,
		Email:     profile.Email,
		ToState:   StatePendingVerification,
	})
	return res, nil
}

// Verify submits the one time code for the pending email. Wrong codes may be
// retried while the countdown runs. Once it reaches zero a resend is needed.
func (m *SessionManager) Verify(ctx context.Context, email, otp string) (User, error) {
	req := VerifyRequest{Email: normalizeEmail(email), OTP: strings.TrimSpace(otp)}
	if err := req.Validate(m.cfg.OTPLength); err != nil {
		return User{}, validationError(err, "invalid verification code")
	}

	m.mu.Lock()
	changes := m.reconcileLocked()
	err := m.checkVerifyLocked(req.Email)
	m.mu.Unlock()
	m.emit(ctx, changes)
	if err != nil {
		return User{}, err
	}

	res, err := m.gateway.VerifyEmail(ctx, req)
	if err != nil {
		if IsValidation(err) {
			err = WrapError(err, KindInvalidCode, "")
		}
		m.record(ctx, ActivityEvent{
			EventType: ActivityVerifyFailure,
			Email:     req.Email,
			Kind:      KindOf(err),
		})
		return User{}, err
	}

	if res.Token == "" || res.User == nil || res.User.ID == "" {
		return User{}, NewError(KindServer, "verification response is missing the token or the user")
	}
	if normalizeEmail(res.User.Email) != req.Email {
		return User{}, NewError(KindServer, "verification response belongs to another account")
	}

	if err := m.authenticate(ctx, TriggerVerify, res.Token, *res.User); err != nil {
		return User{}, err
	}

	m.record(ctx, ActivityEvent{
		EventType: ActivityVerifySuccess,
		UserID:    res.User.ID,
		Email:     req.Email,
		ToState:   StateAuthenticated,
	})
	return *res.User, nil
}

func (m *SessionManager) checkVerifyLocked(email string) error {
	if m.closed {
		return errManagerClosed()
	}
	if m.state != StatePendingVerification || m.pending == nil || m.pending.Email != email {
		return NewError(KindNoPendingVerification, "")
	}
	if m.countdown.Expired() {
		return NewError(KindVerificationExpired, "")
	}
	return nil
}

// Resend requests a new code and restarts the countdown. It is refused
// without a network call while the countdown is running.
func (m *SessionManager) Resend(ctx context.Context, email string, purpose OTPPurpose) error {
	if purpose == "" {
		purpose = PurposeEmailVerification
	}
	req := ResendRequest{Email: normalizeEmail(email), Type: purpose}
	if err := req.Validate(); err != nil {
		return validationError(err, "invalid resend request")
	}

	m.mu.Lock()
	changes := m.reconcileLocked()
	err := m.checkResendLocked()
	m.mu.Unlock()
	m.emit(ctx, changes)
	if err != nil {
		return err
	}

	if err := m.gateway.ResendOTP(ctx, req); err != nil {
		return err
	}

	if err := m.startPending(ctx, TriggerResend, req.Email, purpose); err != nil {
		return err
	}

	m.record(ctx, ActivityEvent{
		EventType: ActivityOTPResent,
		Email:     req.Email,
		ToState:   StatePendingVerification,
		Metadata:  map[string]any{"purpose": purpose},
	})
	return nil
}

func (m *SessionManager) checkResendLocked() error {
	if m.closed {
		return errManagerClosed()
	}
	if err := m.machine.allow(m.state, TriggerResend); err != nil {
		return err
	}
	if m.state == StatePendingVerification && !m.countdown.Expired() {
		return NewError(KindResendThrottled, "").WithMetadata(map[string]any{
			"remaining_seconds": int(m.countdown.Remaining().Seconds()),
		})
	}
	return nil
}

// Abandon drops the pending verification and returns to Anonymous.
func (m *SessionManager) Abandon(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StatePendingVerification {
		m.mu.Unlock()
		return nil
	}
	from := m.state
	if _, err := m.machine.check(from, StateAnonymous, TriggerAbandon); err != nil {
		m.mu.Unlock()
		return err
	}
	email := m.pending.Email
	m.state = StateAnonymous
	m.pending = nil
	m.mu.Unlock()

	m.countdown.Stop()
	m.emit(ctx, []TransitionContext{{From: from, To: StateAnonymous, Trigger: TriggerAbandon, Email: email}})
	return nil
}

// Logout ends the session. The server call is best effort, local credentials
// are always cleared. Logging out while anonymous does nothing.
func (m *SessionManager) Logout(ctx context.Context) error {
	m.mu.Lock()
	changes := m.reconcileLocked()
	state := m.state
	m.mu.Unlock()
	m.emit(ctx, changes)

	switch state {
	case StateAnonymous:
		return nil
	case StatePendingVerification:
		return m.Abandon(ctx)
	}

	user, _ := m.store.User()
	if err := m.gateway.Logout(ctx); err != nil {
		m.logger.Warn("logout request failed, clearing local session anyway: %v", err)
	}

	m.mu.Lock()
	had, clearErr := m.store.clear(ctx)
	from := m.state
	m.state = StateAnonymous
	m.pending = nil
	m.mu.Unlock()

	if had {
		m.store.notify(Session{})
	}
	if from != StateAnonymous {
		m.emit(ctx, []TransitionContext{{From: from, To: StateAnonymous, Trigger: TriggerLogout, Email: user.Email, UserID: user.ID}})
	}
	m.record(ctx, ActivityEvent{
		EventType: ActivityLogout,
		UserID:    user.ID,
		Email:     user.Email,
		FromState: StateAuthenticated,
		ToState:   StateAnonymous,
	})
	return clearErr
}

// CurrentUser refreshes the session user from GET /auth/me. Without a
// session no request is made.
func (m *SessionManager) CurrentUser(ctx context.Context) (User, error) {
	if !m.IsAuthenticated() {
		return User{}, NewError(KindUnauthorized, "")
	}

	user, err := m.gateway.Me(ctx)
	if err != nil {
		if IsUnauthorized(err) {
			m.State()
		}
		return User{}, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Warn("discarding user refresh received after close")
		return user, nil
	}
	session, err := m.store.replaceUser(ctx, user)
	m.mu.Unlock()
	if err != nil {
		return User{}, err
	}
	m.store.notify(session)
	return user, nil
}

// Close stops the countdown. Responses that arrive afterwards are dropped
// without touching the credential store.
func (m *SessionManager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.countdown.Stop()
}

func (m *SessionManager) begin(ctx context.Context, trigger SessionTrigger) error {
	m.mu.Lock()
	changes := m.reconcileLocked()
	var err error
	if m.closed {
		err = errManagerClosed()
	} else {
		err = m.machine.allow(m.state, trigger)
	}
	m.mu.Unlock()

	m.emit(ctx, changes)
	return err
}

// authenticate persists the session and moves to Authenticated.
func (m *SessionManager) authenticate(ctx context.Context, trigger SessionTrigger, token string, user User) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Warn("discarding %s response received after close", trigger)
		return errManagerClosed()
	}
	from := m.state
	if _, err := m.machine.check(from, StateAuthenticated, trigger); err != nil {
		m.mu.Unlock()
		return err
	}
	session, err := m.store.set(ctx, token, user)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = StateAuthenticated
	m.pending = nil
	m.mu.Unlock()

	// Listeners may call back into the manager, so they run unlocked.
	m.store.notify(session)
	m.countdown.Stop()
	m.emit(ctx, []TransitionContext{{From: from, To: StateAuthenticated, Trigger: trigger, Email: user.Email, UserID: user.ID}})
	return nil
}

// startPending records the pending verification and restarts the countdown.
func (m *SessionManager) startPending(ctx context.Context, trigger SessionTrigger, email string, purpose OTPPurpose) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Warn("discarding %s response received after close", trigger)
		return errManagerClosed()
	}
	from := m.state
	if _, err := m.machine.check(from, StatePendingVerification, trigger); err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = StatePendingVerification
	m.pending = &PendingVerification{Email: email, Purpose: purpose, StartedAt: m.now()}
	m.mu.Unlock()

	m.countdown.Reset()
	m.emit(ctx, []TransitionContext{{From: from, To: StatePendingVerification, Trigger: trigger, Email: email}})
	return nil
}

// reconcileLocked aligns the state with the credential store, which is the
// source of truth for whether a session exists.
func (m *SessionManager) reconcileLocked() []TransitionContext {
	authed := m.store.IsAuthenticated()
	switch {
	case m.state == StateAuthenticated && !authed:
		m.state = StateAnonymous
		return []TransitionContext{{From: StateAuthenticated, To: StateAnonymous, Trigger: TriggerInvalidate}}
	case m.state != StateAuthenticated && authed:
		from := m.state
		m.state = StateAuthenticated
		m.pending = nil
		user, _ := m.store.User()
		return []TransitionContext{{From: from, To: StateAuthenticated, Trigger: TriggerHydrate, Email: user.Email, UserID: user.ID}}
	}
	return nil
}

func (m *SessionManager) emit(ctx context.Context, changes []TransitionContext) {
	for _, tc := range changes {
		if tc.Trigger == TriggerHydrate && tc.From == StatePendingVerification {
			m.countdown.Stop()
		}
		if tc.From == StateAuthenticated && tc.Trigger == TriggerInvalidate {
			m.record(ctx, ActivityEvent{
				EventType: ActivitySessionInvalidated,
				FromState: tc.From,
				ToState:   tc.To,
			})
		}
		m.machine.runHooks(ctx, tc)
	}
}

func (m *SessionManager) record(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, m.activitySink, m.logger, m.now, event)
}

func errManagerClosed() error {
	return NewError(KindInvalidTransition, "session manager is closed")
}
