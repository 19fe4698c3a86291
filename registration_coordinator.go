package community

import (
	"context"
	"sync"
	"time"
)

// SessionSource exposes the current session. CredentialStore implements it.
type SessionSource interface {
	Read() (Session, bool)
}

type trackedEvent struct {
	event Event
	// serverFull is set when the server refused a registration as full while
	// the local counts still showed seats.
	serverFull bool
}

// Availability tells a caller whether the register action should be enabled.
type Availability struct {
	EventID     string
	CanRegister bool
	Reason      ErrorKind
	Remaining   int
	Registered  bool
	Status      RegistrationStatus
}

// RegistrationCoordinator enforces capacity and one active registration per
// user and event. Local counts only move after the server confirmed a change.
type RegistrationCoordinator struct {
	mu            sync.Mutex
	gateway       Gateway
	sessions      SessionSource
	events        map[string]*trackedEvent
	registrations map[string]EventRegistration
	inFlight      map[string]struct{}
	owner         string

	phoneRegion  string
	logger       Logger
	activitySink ActivitySink
	now          Clock
}

// CoordinatorOption customizes a RegistrationCoordinator.
type CoordinatorOption func(*RegistrationCoordinator)

// WithCoordinatorLogger sets the coordinator logger.
func WithCoordinatorLogger(logger Logger) CoordinatorOption {
	return func(c *RegistrationCoordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCoordinatorActivitySink sets the sink for registration events.
func WithCoordinatorActivitySink(sink ActivitySink) CoordinatorOption {
	return func(c *RegistrationCoordinator) {
		c.activitySink = normalizeActivitySink(sink)
	}
}

// WithCoordinatorClock injects a custom clock (useful for tests).
func WithCoordinatorClock(clock Clock) CoordinatorOption {
	return func(c *RegistrationCoordinator) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithPhoneRegion sets the default region for phone registration fields.
func WithPhoneRegion(region string) CoordinatorOption {
	return func(c *RegistrationCoordinator) {
		if region != "" {
			c.phoneRegion = region
		}
	}
}

// NewRegistrationCoordinator returns a coordinator with no known events.
func NewRegistrationCoordinator(gateway Gateway, sessions SessionSource, opts ...CoordinatorOption) *RegistrationCoordinator {
	c := &RegistrationCoordinator{
		gateway:       gateway,
		sessions:      sessions,
		events:        map[string]*trackedEvent{},
		registrations: map[string]EventRegistration{},
		inFlight:      map[string]struct{}{},
		phoneRegion:   DefaultConfig().PhoneRegion,
		logger:        defLogger{},
		activitySink:  noopActivitySink{},
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Track records the last known state of events seen on read paths.
func (c *RegistrationCoordinator) Track(events ...Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range events {
		if ev.ID == "" || ev.Demo {
			continue
		}
		prev, ok := c.events[ev.ID]
		if !ok {
			c.events[ev.ID] = &trackedEvent{event: ev}
			continue
		}
		counts := prev.event.CurrentAttendees != ev.CurrentAttendees || prev.event.MaxAttendees != ev.MaxAttendees
		if counts {
			prev.serverFull = false
		}
		prev.event = ev
	}
}

// Event returns the last known state of an event.
func (c *RegistrationCoordinator) Event(eventID string) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tracked, ok := c.events[eventID]
	if !ok {
		return Event{}, false
	}
	return tracked.event, true
}

// Registration returns the current user's registration for an event.
func (c *RegistrationCoordinator) Registration(eventID string) (EventRegistration, bool) {
	session, ok := c.sessions.Read()
	if !ok {
		return EventRegistration{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ownerLocked(session.User.ID)
	reg, ok := c.registrations[eventID]
	return reg, ok
}

// Registrations returns every registration known for the current user.
func (c *RegistrationCoordinator) Registrations() []EventRegistration {
	session, ok := c.sessions.Read()
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ownerLocked(session.User.ID)
	out := make([]EventRegistration, 0, len(c.registrations))
	for _, reg := range c.registrations {
		out = append(out, reg)
	}
	return out
}

// Availability reports whether registering for the event can be attempted.
func (c *RegistrationCoordinator) Availability(eventID string) Availability {
	out := Availability{EventID: eventID, Remaining: -1}

	session, ok := c.sessions.Read()
	c.mu.Lock()
	defer c.mu.Unlock()

	if tracked, known := c.events[eventID]; known {
		out.Remaining = tracked.event.Remaining()
		if tracked.serverFull {
			out.Remaining = 0
		}
	}
	if !ok {
		out.Reason = KindUnauthorized
		return out
	}

	c.ownerLocked(session.User.ID)
	if reg, has := c.registrations[eventID]; has && reg.Status.IsActive() {
		out.Registered = true
		out.Status = reg.Status
	}

	out.Reason = c.refusalLocked(eventID)
	out.CanRegister = out.Reason == KindUnknown
	return out
}

// refusalLocked returns why a registration would be refused locally, or
// KindUnknown when it may be attempted.
func (c *RegistrationCoordinator) refusalLocked(eventID string) ErrorKind {
	if reg, has := c.registrations[eventID]; has && reg.Status.IsActive() {
		return KindAlreadyRegistered
	}
	if _, busy := c.inFlight[eventID]; busy {
		return KindConflict
	}
	tracked, known := c.events[eventID]
	if !known {
		return KindUnknown
	}
	if !tracked.event.RegistrationOpen {
		return KindRegistrationClosed
	}
	if tracked.event.IsFull() || tracked.serverFull {
		return KindEventFull
	}
	return KindUnknown
}

// Register signs the current user up for an event. The capacity check uses
// the last known counts and is advisory, the server has the final word.
func (c *RegistrationCoordinator) Register(ctx context.Context, eventID string, values FieldValues) (EventRegistration, error) {
	session, ok := c.sessions.Read()
	if !ok {
		return EventRegistration{}, NewError(KindUnauthorized, "log in to register for events")
	}

	if _, known := c.Event(eventID); !known {
		ev, err := c.gateway.GetEvent(ctx, eventID)
		if err != nil {
			return EventRegistration{}, err
		}
		c.Track(ev)
	}

	c.mu.Lock()
	c.ownerLocked(session.User.ID)
	if reason := c.refusalLocked(eventID); reason != KindUnknown {
		c.mu.Unlock()
		err := NewError(reason, "").WithMetadata(map[string]any{"event_id": eventID})
		c.recordFailure(ctx, session.User, eventID, err)
		return EventRegistration{}, err
	}

	var event Event
	if tracked, known := c.events[eventID]; known {
		event = tracked.event
	}
	data, err := NewRegistrationSchema(event.RegistrationFields, c.phoneRegion).Encode(values)
	if err != nil {
		c.mu.Unlock()
		return EventRegistration{}, err
	}
	c.inFlight[eventID] = struct{}{}
	c.mu.Unlock()

	reg, err := c.gateway.RegisterForEvent(ctx, eventID, data)
	if IsKind(err, KindConflict) {
		err = c.explainConflict(ctx, eventID, err)
	}

	c.mu.Lock()
	delete(c.inFlight, eventID)
	if err != nil {
		if IsEventFull(err) {
			if tracked, known := c.events[eventID]; known {
				tracked.serverFull = true
			}
		}
		c.mu.Unlock()
		c.recordFailure(ctx, session.User, eventID, err)
		return EventRegistration{}, err
	}

	if reg.EventID == "" {
		reg.EventID = eventID
	}
	if reg.UserID == "" {
		reg.UserID = session.User.ID
	}
	if !reg.Status.IsValid() {
		reg.Status = RegistrationApproved
		if event.RequiresApproval {
			reg.Status = RegistrationPending
		}
	}
	if c.owner == session.User.ID {
		c.registrations[eventID] = reg
	}
	if tracked, known := c.events[eventID]; known && reg.Status.HoldsSeat() {
		tracked.event.CurrentAttendees++
		if !tracked.event.Unlimited() && tracked.event.CurrentAttendees > tracked.event.MaxAttendees {
			tracked.event.CurrentAttendees = tracked.event.MaxAttendees
		}
	}
	c.mu.Unlock()

	recordActivity(ctx, c.activitySink, c.logger, c.now, ActivityEvent{
		EventType: ActivityEventRegistered,
		UserID:    session.User.ID,
		Email:     session.User.Email,
		EventID:   eventID,
		Metadata:  map[string]any{"status": reg.Status, "registration_id": reg.ID},
	})
	return reg, nil
}

// explainConflict re-reads an event after a generic 409, so a refusal the
// server sent without a code is still reported as full or closed.
func (c *RegistrationCoordinator) explainConflict(ctx context.Context, eventID string, err error) error {
	ev, getErr := c.gateway.GetEvent(ctx, eventID)
	if getErr != nil {
		c.logger.Debug("refresh event %s after conflict: %v", eventID, getErr)
		return err
	}
	c.Track(ev)

	switch {
	case ev.IsFull():
		return WrapError(err, KindEventFull, "")
	case !ev.RegistrationOpen:
		return WrapError(err, KindRegistrationClosed, "")
	}
	return err
}

// CancelRegistration cancels the current user's registration. Cancelling a
// registration that does not exist or is already cancelled succeeds.
func (c *RegistrationCoordinator) CancelRegistration(ctx context.Context, eventID string) error {
	session, ok := c.sessions.Read()
	if !ok {
		c.logger.Debug("cancel %s without a session, nothing to do", eventID)
		return nil
	}

	c.mu.Lock()
	c.ownerLocked(session.User.ID)
	reg, has := c.registrations[eventID]
	c.mu.Unlock()
	if has && reg.Status == RegistrationCancelled {
		return nil
	}

	if err := c.gateway.CancelRegistration(ctx, eventID); err != nil {
		switch KindOf(err) {
		case KindNotFound, KindNotRegistered:
			c.logger.Debug("cancel %s: server has no registration", eventID)
		default:
			return err
		}
	}

	c.mu.Lock()
	if current, has := c.registrations[eventID]; has && c.owner == session.User.ID {
		if tracked, known := c.events[eventID]; known && current.Status.HoldsSeat() {
			if tracked.event.CurrentAttendees > 0 {
				tracked.event.CurrentAttendees--
			}
			tracked.serverFull = false
		}
		current.Status = RegistrationCancelled
		c.registrations[eventID] = current
	}
	c.mu.Unlock()

	recordActivity(ctx, c.activitySink, c.logger, c.now, ActivityEvent{
		EventType: ActivityEventRegistrationOff,
		UserID:    session.User.ID,
		Email:     session.User.Email,
		EventID:   eventID,
	})
	return nil
}

// Sync replaces the local registrations with the server's list for the
// current user, picking up approvals and rejections made elsewhere.
func (c *RegistrationCoordinator) Sync(ctx context.Context) error {
	session, ok := c.sessions.Read()
	if !ok {
		return NewError(KindUnauthorized, "")
	}

	regs, err := c.gateway.UserRegistrations(ctx, session.User.ID)
	if err != nil {
		return err
	}

	byEvent := make(map[string]EventRegistration, len(regs))
	for _, reg := range regs {
		if reg.EventID == "" {
			continue
		}
		if existing, ok := byEvent[reg.EventID]; ok && existing.Status.IsActive() && !reg.Status.IsActive() {
			continue
		}
		byEvent[reg.EventID] = reg
	}

	c.mu.Lock()
	c.owner = session.User.ID
	c.registrations = byEvent
	c.mu.Unlock()
	return nil
}

// ownerLocked drops registrations that belong to a previous user.
func (c *RegistrationCoordinator) ownerLocked(userID string) {
	if c.owner == userID {
		return
	}
	c.owner = userID
	c.registrations = map[string]EventRegistration{}
	c.inFlight = map[string]struct{}{}
}

func (c *RegistrationCoordinator) recordFailure(ctx context.Context, user User, eventID string, err error) {
	recordActivity(ctx, c.activitySink, c.logger, c.now, ActivityEvent{
		EventType: ActivityEventRegisterFailed,
		UserID:    user.ID,
		Email:     user.Email,
		EventID:   eventID,
		Kind:      KindOf(err),
	})
}
