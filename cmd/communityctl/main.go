package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	community "github.com/goliatone/go-community"
	"github.com/goliatone/go-community/activitymap"
	"github.com/goliatone/go-community/storage"
	"github.com/rs/zerolog"
)

const usage = `usage: communityctl [-config file] [-debug] <command> [args]

commands:
  login <email>                 log in (password read from stdin)
  register <name> <email>       create an account and verify the emailed code
  resend <email>                request a new code and enter it
  logout                        end the session
  whoami                        show the session user
  events [-search q] [-featured] [-category c] [-page n]
  event <id>                    show one event
  join <id> [field=value ...]   register for an event
  leave <id>                    cancel an event registration
  registrations                 list your registrations
`

type app struct {
	client *community.Client
	in     *bufio.Reader
	out    io.Writer
}

func main() {
	configPath := flag.String("config", os.Getenv("COMMUNITY_CONFIG"), "TOML configuration file")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, *configPath, *debug, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, debug bool, args []string) error {
	cfg, err := community.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}

	logger := community.NewConsoleLogger("communityctl", cfg.LogLevel)

	backend, closer, err := storage.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	client := community.NewClient(cfg, backend, community.ClientOptions{
		Logger:       logger,
		ActivitySink: auditSink(cfg.LogLevel),
	})
	defer client.Close()

	_, _ = client.Start(ctx)

	a := &app{client: client, in: bufio.NewReader(os.Stdin), out: os.Stdout}
	return a.dispatch(ctx, args[0], args[1:])
}

// auditSink writes activity records as structured debug lines on stderr.
func auditSink(level string) community.ActivitySink {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	audit := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("app", "communityctl").Logger().Level(lvl)

	return community.ActivitySinkFunc(func(_ context.Context, e community.ActivityEvent) error {
		record := activitymap.Normalize(e, activitymap.WithActorFallback("communityctl"), activitymap.WithEmailRedaction())
		audit.Debug().Fields(record.Fields()).Msg("activity")
		return nil
	})
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.login(ctx, args)
	case "register":
		return a.register(ctx, args)
	case "resend":
		return a.resend(ctx, args)
	case "logout":
		return a.client.Sessions.Logout(ctx)
	case "whoami":
		return a.whoami(ctx)
	case "events":
		return a.events(ctx, args)
	case "event":
		return a.event(ctx, args)
	case "join":
		return a.join(ctx, args)
	case "leave":
		return a.leave(ctx, args)
	case "registrations":
		return a.registrations(ctx)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (a *app) login(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: login <email>")
	}
	password, err := a.prompt("password: ")
	if err != nil {
		return err
	}

	user, err := a.client.Sessions.Login(ctx, args[0], password)
	if community.IsEmailNotVerified(err) {
		fmt.Fprintln(a.out, "email not verified, sending a new code")
		if err := a.client.Sessions.Resend(ctx, args[0], community.PurposeEmailVerification); err != nil {
			return err
		}
		return a.verifyLoop(ctx, args[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "logged in as %s (%s)\n", user.Name, user.Email)
	return nil
}

func (a *app) register(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: register <name> <email>")
	}
	password, err := a.prompt("password: ")
	if err != nil {
		return err
	}
	confirm, err := a.prompt("confirm password: ")
	if err != nil {
		return err
	}

	res, err := a.client.Sessions.Register(ctx, community.RegistrationProfile{
		Name:            args[0],
		Email:           args[1],
		Password:        password,
		ConfirmPassword: confirm,
	})
	if err != nil {
		return err
	}
	if !res.RequiresVerification {
		fmt.Fprintln(a.out, "account created, log in to continue")
		return nil
	}
	return a.verifyLoop(ctx, args[1])
}

// verifyLoop reads codes until one is accepted. "r" requests a new code once
// the countdown has run out, an empty line gives up.
func (a *app) verifyLoop(ctx context.Context, email string) error {
	sessions := a.client.Sessions
	for {
		pending, _ := sessions.Pending()
		fmt.Fprintf(a.out, "code sent to %s, %s left to enter it\n", email, pending.Remaining.Round(time.Second))

		line, err := a.prompt("code (r to resend, empty to quit): ")
		if err != nil {
			return err
		}
		switch strings.ToLower(line) {
		case "":
			return sessions.Abandon(ctx)
		case "r":
			if err := sessions.Resend(ctx, email, community.PurposeEmailVerification); err != nil {
				fmt.Fprintln(a.out, describe(err))
			}
			continue
		}

		user, err := sessions.Verify(ctx, email, line)
		if err == nil {
			fmt.Fprintf(a.out, "verified, logged in as %s\n", user.Email)
			return nil
		}
		if !community.IsRetryable(err) && !community.IsValidation(err) && !community.IsKind(err, community.KindVerificationExpired) {
			return err
		}
		fmt.Fprintln(a.out, describe(err))
	}
}

func (a *app) resend(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: resend <email>")
	}
	if err := a.client.Sessions.Resend(ctx, args[0], community.PurposeEmailVerification); err != nil {
		return err
	}
	return a.verifyLoop(ctx, args[0])
}

func (a *app) whoami(ctx context.Context) error {
	user, err := a.client.Sessions.CurrentUser(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s <%s> @%s role=%s verified=%t\n", user.Name, user.Email, user.Username, user.EffectiveRole(), user.EmailVerified)
	return nil
}

func (a *app) events(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	search := fs.String("search", "", "free text search")
	category := fs.String("category", "", "category")
	featured := fs.Bool("featured", false, "featured only")
	page := fs.Int("page", 1, "page number")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := a.client.Catalog.List(ctx, community.EventFilters{
		Search:   *search,
		Category: *category,
		Featured: *featured,
		Upcoming: true,
		Page:     *page,
	})
	if err != nil {
		return err
	}
	if result.Demo {
		fmt.Fprintln(a.out, "(offline, showing demo events)")
	} else if result.Stale {
		fmt.Fprintln(a.out, "(offline, showing cached events)")
	}
	for _, ev := range result.Events {
		a.printEvent(ev)
	}
	fmt.Fprintf(a.out, "page %d of %d, %d events\n", result.Pagination.Page, result.Pagination.Pages, result.Pagination.Total)
	return nil
}

func (a *app) event(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: event <id>")
	}
	ev, err := a.client.Catalog.Get(ctx, args[0])
	if err != nil {
		return err
	}
	a.printEvent(ev)
	for _, f := range ev.RegistrationFields {
		req := ""
		if f.Required {
			req = " (required)"
		}
		fmt.Fprintf(a.out, "  field %s [%s]%s %s\n", f.Name, f.Type, req, strings.Join(f.Options, "|"))
	}
	return nil
}

func (a *app) join(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: join <id> [field=value ...]")
	}
	eventID := args[0]

	ev, err := a.client.Catalog.Get(ctx, eventID)
	if err != nil {
		return err
	}
	specs := map[string]community.FieldSpec{}
	for _, f := range ev.RegistrationFields {
		specs[f.Name] = f
	}

	values := community.FieldValues{}
	for _, kv := range args[1:] {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("field %q must be name=value", kv)
		}
		spec, known := specs[name]
		if !known {
			values[name] = community.TextValue(raw)
			continue
		}
		v, err := community.ParseFieldValue(spec, raw)
		if err != nil {
			return err
		}
		values[name] = v
	}

	if avail := a.client.Registrations.Availability(eventID); !avail.CanRegister && avail.Reason != community.KindUnknown {
		return community.NewError(avail.Reason, "")
	}

	reg, err := a.client.Registrations.Register(ctx, eventID, values)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "registered for %s, status %s\n", eventID, reg.Status)
	return nil
}

func (a *app) leave(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: leave <id>")
	}
	if err := a.client.Registrations.CancelRegistration(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "registration for %s cancelled\n", args[0])
	return nil
}

func (a *app) registrations(ctx context.Context) error {
	if err := a.client.Registrations.Sync(ctx); err != nil {
		return err
	}
	for _, reg := range a.client.Registrations.Registrations() {
		fmt.Fprintf(a.out, "%s\t%s\n", reg.EventID, reg.Status)
	}
	return nil
}

func (a *app) printEvent(ev community.Event) {
	seats := "unlimited"
	if !ev.Unlimited() {
		seats = fmt.Sprintf("%d/%d", ev.CurrentAttendees, ev.MaxAttendees)
	}
	when := ""
	if ev.StartsAt != nil {
		when = ev.StartsAt.Format("Mon Jan 2 15:04")
	}
	fmt.Fprintf(a.out, "%-24s %-40s %-16s %s\n", ev.ID, ev.Title, when, seats)
}

func (a *app) prompt(label string) (string, error) {
	fmt.Fprint(a.out, label)
	line, err := a.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func describe(err error) string {
	if fields := community.ValidationFields(err); len(fields) > 0 {
		parts := make([]string, 0, len(fields))
		for name, msg := range fields {
			parts = append(parts, name+": "+msg)
		}
		return err.Error() + " (" + strings.Join(parts, ", ") + ")"
	}
	if kind := community.KindOf(err); kind != community.KindUnknown {
		return fmt.Sprintf("%s [%s]", err.Error(), kind)
	}
	return err.Error()
}
