package community

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/goliatone/go-print"
)

// TokenSource provides the bearer token attached to authenticated calls.
type TokenSource interface {
	Token() string
}

// UnauthorizedHandler runs once for every authenticated request the server
// answered with 401.
type UnauthorizedHandler func(ctx context.Context)

// HTTPGateway talks to the platform JSON API. Every error it returns carries
// an ErrorKind.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
	logger  Logger
	debug   bool

	mu             sync.RWMutex
	onUnauthorized UnauthorizedHandler
}

// GatewayOption customizes an HTTPGateway.
type GatewayOption func(*HTTPGateway)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(client *http.Client) GatewayOption {
	return func(g *HTTPGateway) {
		if client != nil {
			g.client = client
		}
	}
}

// WithTokenSource sets where bearer tokens come from.
func WithTokenSource(tokens TokenSource) GatewayOption {
	return func(g *HTTPGateway) {
		g.tokens = tokens
	}
}

// WithGatewayLogger sets the gateway logger.
func WithGatewayLogger(logger Logger) GatewayOption {
	return func(g *HTTPGateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGatewayDebug dumps event payloads at debug level.
func WithGatewayDebug(debug bool) GatewayOption {
	return func(g *HTTPGateway) {
		g.debug = debug
	}
}

// WithUnauthorizedHandler sets the 401 handler.
func WithUnauthorizedHandler(h UnauthorizedHandler) GatewayOption {
	return func(g *HTTPGateway) {
		g.onUnauthorized = h
	}
}

// NewHTTPGateway returns a gateway for the API rooted at baseURL.
func NewHTTPGateway(baseURL string, opts ...GatewayOption) *HTTPGateway {
	g := &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultConfig().RequestTimeout},
		logger:  defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// NewGatewayFromConfig wires a gateway with the config timeout and debug flag.
func NewGatewayFromConfig(cfg Config, store *CredentialStore, logger Logger) *HTTPGateway {
	return NewHTTPGateway(cfg.BaseURL,
		WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		WithTokenSource(store),
		WithGatewayLogger(logger),
		WithGatewayDebug(cfg.Debug),
		WithUnauthorizedHandler(func(ctx context.Context) {
			if err := store.Clear(ctx); err != nil {
				normalizeLogger(logger).Error("clear credentials after 401: %v", err)
			}
		}),
	)
}

// SetUnauthorizedHandler replaces the 401 handler.
func (g *HTTPGateway) SetUnauthorizedHandler(h UnauthorizedHandler) {
	g.mu.Lock()
	g.onUnauthorized = h
	g.mu.Unlock()
}

type call struct {
	method string
	path   string
	query  url.Values
	body   any
	out    any
	// public calls never carry a bearer token
	public bool
	dump   bool
	// statusKinds overrides how a status without a server code is read
	statusKinds map[int]ErrorKind
}

type errorEnvelope struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func (g *HTTPGateway) do(ctx context.Context, c call) error {
	endpoint := g.baseURL + c.path
	if len(c.query) > 0 {
		endpoint += "?" + c.query.Encode()
	}

	var body io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		if err != nil {
			return WrapError(err, KindValidation, "unable to encode request")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, endpoint, body)
	if err != nil {
		return WrapError(err, KindNetwork, "build request failed")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID(ctx))
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	authed := false
	if !c.public && g.tokens != nil {
		if token := g.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
			authed = true
		}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Debug("%s %s transport error: %v", c.method, c.path, err)
		return WrapError(err, KindNetwork, "")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return WrapError(err, KindNetwork, "unable to read response")
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := g.decodeError(resp.StatusCode, raw, c.statusKinds)
		if resp.StatusCode == http.StatusUnauthorized && authed {
			g.unauthorized(ctx)
		}
		return apiErr
	}

	if c.out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, c.out); err != nil {
		return WrapError(err, KindNetwork, "unable to decode response")
	}
	if g.debug && c.dump {
		g.logger.Debug("%s %s -> %d\n%s", c.method, c.path, resp.StatusCode, print.MaybePrettyJSON(c.out))
	}
	return nil
}

func (g *HTTPGateway) decodeError(status int, raw []byte, overrides map[int]ErrorKind) error {
	var env errorEnvelope
	_ = json.Unmarshal(raw, &env)

	message := env.Message
	if message == "" {
		message = env.Error
	}

	kind, ok := kindFromServerCode(env.Code)
	if !ok {
		if k, found := overrides[status]; found {
			kind = k
		} else {
			kind = kindFromStatus(status)
		}
	}

	meta := map[string]any{"status": status}
	if env.Code != "" {
		meta["server_code"] = env.Code
	}
	return NewError(kind, message).WithMetadata(meta)
}

func (g *HTTPGateway) unauthorized(ctx context.Context) {
	g.mu.RLock()
	h := g.onUnauthorized
	g.mu.RUnlock()
	if h != nil {
		h(ctx)
	}
}

type authEnvelope struct {
	User                 *User  `json:"user"`
	Token                string `json:"token"`
	RequiresVerification bool   `json:"requiresVerification"`
}

// Login calls POST /auth/login.
func (g *HTTPGateway) Login(ctx context.Context, req LoginRequest) (AuthResult, error) {
	var out authEnvelope
	err := g.do(ctx, call{
		method: http.MethodPost,
		path:   "/auth/login",
		body:   req,
		out:    &out,
		public: true,
		statusKinds: map[int]ErrorKind{
			http.StatusUnauthorized: KindInvalidCredentials,
			http.StatusForbidden:    KindEmailNotVerified,
		},
	})
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{User: out.User, Token: out.Token}, nil
}

// Register calls POST /auth/register. Any token in the response is dropped.
func (g *HTTPGateway) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	var out authEnvelope
	err := g.do(ctx, call{
		method: http.MethodPost,
		path:   "/auth/register",
		body:   req,
		out:    &out,
		public: true,
	})
	if err != nil {
		return RegisterResult{}, err
	}
	return RegisterResult{User: out.User, RequiresVerification: out.RequiresVerification}, nil
}

// VerifyEmail calls POST /auth/verify-email.
func (g *HTTPGateway) VerifyEmail(ctx context.Context, req VerifyRequest) (AuthResult, error) {
	var out authEnvelope
	err := g.do(ctx, call{
		method: http.MethodPost,
		path:   "/auth/verify-email",
		body:   req,
		out:    &out,
		public: true,
		statusKinds: map[int]ErrorKind{
			http.StatusBadRequest: KindInvalidCode,
			http.StatusGone:       KindVerificationExpired,
		},
	})
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{User: out.User, Token: out.Token}, nil
}

// ResendOTP calls POST /auth/resend-otp.
func (g *HTTPGateway) ResendOTP(ctx context.Context, req ResendRequest) error {
	return g.do(ctx, call{
		method: http.MethodPost,
		path:   "/auth/resend-otp",
		body:   req,
		public: true,
		statusKinds: map[int]ErrorKind{
			http.StatusNotFound: KindNoPendingVerification,
		},
	})
}

// Logout calls POST /auth/logout.
func (g *HTTPGateway) Logout(ctx context.Context) error {
	return g.do(ctx, call{method: http.MethodPost, path: "/auth/logout"})
}

// Me calls GET /auth/me.
func (g *HTTPGateway) Me(ctx context.Context) (User, error) {
	var out authEnvelope
	if err := g.do(ctx, call{method: http.MethodGet, path: "/auth/me", out: &out}); err != nil {
		return User{}, err
	}
	if out.User == nil {
		return User{}, NewError(KindServer, "response has no user")
	}
	return *out.User, nil
}

// ListEvents calls GET /events.
func (g *HTTPGateway) ListEvents(ctx context.Context, filters EventFilters) (EventPage, error) {
	var out EventPage
	err := g.do(ctx, call{
		method: http.MethodGet,
		path:   "/events",
		query:  eventQuery(filters),
		out:    &out,
		dump:   true,
	})
	if err != nil {
		return EventPage{}, err
	}
	return out, nil
}

// GetEvent calls GET /events/:id.
func (g *HTTPGateway) GetEvent(ctx context.Context, eventID string) (Event, error) {
	var out struct {
		Event *Event `json:"event"`
	}
	err := g.do(ctx, call{
		method: http.MethodGet,
		path:   "/events/" + url.PathEscape(eventID),
		out:    &out,
		dump:   true,
	})
	if err != nil {
		return Event{}, err
	}
	if out.Event == nil {
		return Event{}, NewError(KindServer, "response has no event")
	}
	return *out.Event, nil
}

// RegisterForEvent calls POST /events/:id/register.
func (g *HTTPGateway) RegisterForEvent(ctx context.Context, eventID string, data RegistrationData) (EventRegistration, error) {
	var out struct {
		Registration *EventRegistration `json:"registration"`
	}
	err := g.do(ctx, call{
		method: http.MethodPost,
		path:   "/events/" + url.PathEscape(eventID) + "/register",
		body:   data,
		out:    &out,
		dump:   true,
	})
	if err != nil {
		return EventRegistration{}, err
	}
	if out.Registration == nil {
		return EventRegistration{}, NewError(KindServer, "response has no registration")
	}
	return *out.Registration, nil
}

// CancelRegistration calls DELETE /events/:id/register.
func (g *HTTPGateway) CancelRegistration(ctx context.Context, eventID string) error {
	return g.do(ctx, call{
		method: http.MethodDelete,
		path:   "/events/" + url.PathEscape(eventID) + "/register",
		statusKinds: map[int]ErrorKind{
			http.StatusNotFound: KindNotRegistered,
		},
	})
}

// UserRegistrations calls GET /users/:id/registrations.
func (g *HTTPGateway) UserRegistrations(ctx context.Context, userID string) ([]EventRegistration, error) {
	var out struct {
		Registrations []EventRegistration `json:"registrations"`
	}
	err := g.do(ctx, call{
		method: http.MethodGet,
		path:   "/users/" + url.PathEscape(userID) + "/registrations",
		out:    &out,
		dump:   true,
	})
	if err != nil {
		return nil, err
	}
	return out.Registrations, nil
}

func eventQuery(f EventFilters) url.Values {
	q := url.Values{}
	if s := strings.TrimSpace(f.Search); s != "" {
		q.Set("search", s)
	}
	if f.Category != "" {
		q.Set("category", f.Category)
	}
	if f.Featured {
		q.Set("featured", "true")
	}
	if f.Upcoming {
		q.Set("upcoming", "true")
	}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	return q
}
