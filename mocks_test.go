package community_test

import (
	"context"

	community "github.com/goliatone/go-community"
	"github.com/stretchr/testify/mock"
)

// MockBackend implements community.CredentialBackend
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Load(ctx context.Context) (map[string]string, error) {
	args := m.Called(ctx)
	values, _ := args.Get(0).(map[string]string)
	return values, args.Error(1)
}

func (m *MockBackend) Save(ctx context.Context, values map[string]string) error {
	args := m.Called(ctx, values)
	return args.Error(0)
}

func (m *MockBackend) Delete(ctx context.Context, keys ...string) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

// MockGateway implements community.Gateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Login(ctx context.Context, req community.LoginRequest) (community.AuthResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(community.AuthResult), args.Error(1)
}

func (m *MockGateway) Register(ctx context.Context, req community.RegisterRequest) (community.RegisterResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(community.RegisterResult), args.Error(1)
}

func (m *MockGateway) VerifyEmail(ctx context.Context, req community.VerifyRequest) (community.AuthResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(community.AuthResult), args.Error(1)
}

func (m *MockGateway) ResendOTP(ctx context.Context, req community.ResendRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockGateway) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockGateway) Me(ctx context.Context) (community.User, error) {
	args := m.Called(ctx)
	return args.Get(0).(community.User), args.Error(1)
}

func (m *MockGateway) ListEvents(ctx context.Context, filters community.EventFilters) (community.EventPage, error) {
	args := m.Called(ctx, filters)
	return args.Get(0).(community.EventPage), args.Error(1)
}

func (m *MockGateway) GetEvent(ctx context.Context, eventID string) (community.Event, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).(community.Event), args.Error(1)
}

func (m *MockGateway) RegisterForEvent(ctx context.Context, eventID string, data community.RegistrationData) (community.EventRegistration, error) {
	args := m.Called(ctx, eventID, data)
	return args.Get(0).(community.EventRegistration), args.Error(1)
}

func (m *MockGateway) CancelRegistration(ctx context.Context, eventID string) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}

func (m *MockGateway) UserRegistrations(ctx context.Context, userID string) ([]community.EventRegistration, error) {
	args := m.Called(ctx, userID)
	regs, _ := args.Get(0).([]community.EventRegistration)
	return regs, args.Error(1)
}

// staticSession implements community.SessionSource
type staticSession struct {
	session community.Session
}

func (s *staticSession) Read() (community.Session, bool) {
	return s.session, s.session.Valid()
}

// recordingSink collects activity events.
type recordingSink struct {
	events []community.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event community.ActivityEvent) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) types() []community.ActivityEventType {
	out := make([]community.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}
