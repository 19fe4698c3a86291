package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	community "github.com/goliatone/go-community"
	"github.com/goliatone/go-community/apitest"
	"github.com/goliatone/go-community/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lines feeds one answer per read. Answers are produced when the prompt
// reads them, so codes issued by the server mid-command can be typed.
type lines []func() string

func (l *lines) Read(p []byte) (int, error) {
	if len(*l) == 0 {
		return 0, io.EOF
	}
	next := (*l)[0]
	*l = (*l)[1:]
	return copy(p, next()+"\n"), nil
}

func say(s string) func() string { return func() string { return s } }

func newTestApp(t *testing.T, server *apitest.Server, answers ...func() string) (*app, *bytes.Buffer) {
	t.Helper()

	cfg := community.DefaultConfig()
	cfg.Mode = community.ModeTest
	cfg.BaseURL = server.URL
	cfg.RequestTimeout = 5 * time.Second
	cfg.StorageDriver = community.StorageMemory
	cfg.DemoFallback = false

	client := community.NewClient(cfg, memory.New(), community.ClientOptions{
		Logger: community.NopLogger(),
		Manager: []community.ManagerOption{
			community.WithCountdownOptions(community.WithManualTicks()),
		},
	})
	t.Cleanup(client.Close)

	script := lines(answers)
	out := &bytes.Buffer{}
	return &app{client: client, in: bufio.NewReader(&script), out: out}, out
}

func TestRegisterRetriesWrongCode(t *testing.T) {
	server := apitest.New(apitest.WithOTPGenerator(apitest.Sequential())).Start()
	t.Cleanup(server.Close)

	a, out := newTestApp(t, server, say("analytical"), say("analytical"), say("000000"), say("100000"))

	err := a.dispatch(context.Background(), "register", []string{"Ada Lovelace", "ada@example.com"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "code sent to ada@example.com, 10m0s left")
	assert.Contains(t, out.String(), "INVALID_CODE")
	assert.Contains(t, out.String(), "verified, logged in as ada@example.com")
	assert.Equal(t, community.StateAuthenticated, a.client.Sessions.State())
	assert.Equal(t, 2, server.Requests("POST /auth/verify-email"))
}

func TestRegisterEmptyCodeAbandons(t *testing.T) {
	server := apitest.New().Start()
	t.Cleanup(server.Close)

	a, _ := newTestApp(t, server, say("analytical"), say("analytical"), say(""))

	require.NoError(t, a.dispatch(context.Background(), "register", []string{"Ada", "ada@example.com"}))
	assert.Equal(t, community.StateAnonymous, a.client.Sessions.State())
	assert.Equal(t, 0, server.Requests("POST /auth/verify-email"))
}

func TestLoginUnverifiedResendsAfterExpiry(t *testing.T) {
	server := apitest.New(apitest.WithOTPGenerator(apitest.Sequential())).Start()
	t.Cleanup(server.Close)
	server.AddUser("Ada", "ada@example.com", "analytical", false)

	var a *app
	expireThenResend := func() string {
		a.client.Sessions.Countdown().Advance(600)
		return "r"
	}
	a, out := newTestApp(t, server,
		say("analytical"),
		say("r"),
		expireThenResend,
		func() string { return server.OTPFor("ada@example.com") },
	)

	err := a.dispatch(context.Background(), "login", []string{"ada@example.com"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "email not verified, sending a new code")
	assert.Contains(t, out.String(), "RESEND_THROTTLED")
	assert.Contains(t, out.String(), "verified, logged in as ada@example.com")
	assert.Equal(t, 2, server.Requests("POST /auth/resend-otp"), "the throttled resend never reached the server")
}

func TestEventCommands(t *testing.T) {
	ctx := context.Background()
	server := apitest.New().Start()
	t.Cleanup(server.Close)
	server.AddUser("Ada", "ada@example.com", "analytical", true)
	server.AddEvent(community.Event{
		ID:               "gophercon",
		Title:            "GopherCon",
		MaxAttendees:     2,
		RegistrationOpen: true,
		RegistrationFields: []community.FieldSpec{
			{Name: "photos", Type: community.FieldCheckbox},
		},
	})

	a, out := newTestApp(t, server, say("analytical"))
	require.NoError(t, a.dispatch(ctx, "login", []string{"ada@example.com"}))
	assert.Contains(t, out.String(), "logged in as Ada (ada@example.com)")

	require.NoError(t, a.dispatch(ctx, "whoami", nil))
	assert.Contains(t, out.String(), "Ada <ada@example.com>")

	require.NoError(t, a.dispatch(ctx, "event", []string{"gophercon"}))
	assert.Contains(t, out.String(), "field photos [checkbox]")

	require.NoError(t, a.dispatch(ctx, "join", []string{"gophercon", "photos=yes"}))
	assert.Contains(t, out.String(), "registered for gophercon, status approved")

	err := a.dispatch(ctx, "join", []string{"gophercon"})
	assert.True(t, community.IsAlreadyRegistered(err))

	out.Reset()
	require.NoError(t, a.dispatch(ctx, "registrations", nil))
	assert.Equal(t, "gophercon\tapproved\n", out.String())

	require.NoError(t, a.dispatch(ctx, "leave", []string{"gophercon"}))
	ev, ok := server.Event("gophercon")
	require.True(t, ok)
	assert.Equal(t, 0, ev.CurrentAttendees)

	require.NoError(t, a.dispatch(ctx, "logout", nil))
	assert.False(t, a.client.Sessions.IsAuthenticated())
}

func TestDispatchRejectsBadInput(t *testing.T) {
	server := apitest.New().Start()
	t.Cleanup(server.Close)
	a, _ := newTestApp(t, server)

	require.EqualError(t, a.dispatch(context.Background(), "dance", nil), `unknown command "dance"`)
	require.EqualError(t, a.dispatch(context.Background(), "login", nil), "usage: login <email>")

	err := a.dispatch(context.Background(), "join", []string{"e1", "novalue"})
	assert.Error(t, err)
}

func TestDescribeListsValidationFields(t *testing.T) {
	server := apitest.New().Start()
	t.Cleanup(server.Close)
	a, _ := newTestApp(t, server)

	_, err := a.client.Sessions.Login(context.Background(), "ada", "secret")
	require.Error(t, err)
	assert.Contains(t, describe(err), "email: ")
	assert.Equal(t, 0, server.Requests("POST /auth/login"))

	assert.Contains(t, describe(community.NewError(community.KindEventFull, "")), "[EVENT_FULL]")
}
