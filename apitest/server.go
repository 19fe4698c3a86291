// Package apitest runs an in-process fake of the platform API for tests.
// It implements the auth, events and registrations endpoints with real JWT
// tokens and bcrypt password hashes, and counts every request it serves.
package apitest

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	community "github.com/goliatone/go-community"
)

type account struct {
	user         community.User
	passwordHash []byte
	otp          string
}

type failure struct {
	status int
	code   string
	times  int
}

// Server is the fake API. Use New and Start, then point a gateway at URL.
type Server struct {
	mu            sync.Mutex
	app           *fiber.App
	http          *httptest.Server
	signingKey    []byte
	tokenTTL      time.Duration
	now           func() time.Time
	otpGenerator  func() string
	accounts      map[string]*account
	events        map[string]*community.Event
	registrations map[string]*community.EventRegistration
	revoked       map[string]struct{}
	requests      map[string]int
	failures      map[string]*failure
	issueOnSignup bool

	// URL is the base URL once started.
	URL string
}

// Option customizes a Server.
type Option func(*Server)

// WithClock injects the clock used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTokenTTL sets issued token lifetimes.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.tokenTTL = ttl
	}
}

// WithOTPGenerator replaces the random six digit generator.
func WithOTPGenerator(fn func() string) Option {
	return func(s *Server) {
		if fn != nil {
			s.otpGenerator = fn
		}
	}
}

// WithTokenOnRegister makes register responses carry a token, which a well
// behaved client must ignore.
func WithTokenOnRegister() Option {
	return func(s *Server) {
		s.issueOnSignup = true
	}
}

// New builds a server with no users or events.
func New(opts ...Option) *Server {
	s := &Server{
		signingKey:    []byte("apitest-signing-key"),
		tokenTTL:      time.Hour,
		now:           time.Now,
		otpGenerator:  randomOTP,
		accounts:      map[string]*account{},
		events:        map[string]*community.Event{},
		registrations: map[string]*community.EventRegistration{},
		revoked:       map[string]struct{}{},
		requests:      map[string]int{},
		failures:      map[string]*failure{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.app = s.routes()
	return s
}

// Start serves the API on a local listener.
func (s *Server) Start() *Server {
	s.http = httptest.NewServer(adaptor.FiberApp(s.app))
	s.URL = s.http.URL
	return s
}

// Close stops the listener.
func (s *Server) Close() {
	if s.http != nil {
		s.http.Close()
	}
}

func (s *Server) routes() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(s.count)

	app.Post("/auth/register", s.register)
	app.Post("/auth/login", s.login)
	app.Post("/auth/verify-email", s.verifyEmail)
	app.Post("/auth/resend-otp", s.resendOTP)
	app.Post("/auth/logout", s.authenticated, s.logout)
	app.Get("/auth/me", s.authenticated, s.me)

	app.Get("/events", s.listEvents)
	app.Get("/events/:id", s.getEvent)
	app.Post("/events/:id/register", s.authenticated, s.registerForEvent)
	app.Delete("/events/:id/register", s.authenticated, s.cancelRegistration)
	app.Get("/users/:id/registrations", s.authenticated, s.userRegistrations)

	return app
}

// Requests returns how many requests hit "METHOD /path", e.g. "GET /auth/me".
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

// TotalRequests returns the number of requests served.
func (s *Server) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.requests {
		total += n
	}
	return total
}

// Fail makes the next times requests to route answer with status and code.
func (s *Server) Fail(route string, status int, code string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = &failure{status: status, code: code, times: times}
}

// OTPFor returns the code last issued to email.
func (s *Server) OTPFor(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[strings.ToLower(email)]; ok {
		return acc.otp
	}
	return ""
}

// AddUser creates an account directly.
func (s *Server) AddUser(name, email, password string, verified bool) community.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.newAccountLocked(name, strings.ToLower(email), password, "")
	acc.user.EmailVerified = verified
	return acc.user
}

// AddEvent stores or replaces an event.
func (s *Server) AddEvent(ev community.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := ev
	s.events[ev.ID] = &copied
}

// Event returns the server side state of an event.
func (s *Server) Event(id string) (community.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return community.Event{}, false
	}
	return *ev, true
}

// SetRegistrationStatus changes a registration as an organizer would.
func (s *Server) SetRegistrationStatus(eventID, userID string, status community.RegistrationStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[registrationKey(eventID, userID)]
	if !ok {
		return false
	}
	reg.Status = status
	return true
}

// RevokeAll invalidates every token issued so far.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		s.revoked[acc.user.ID] = struct{}{}
	}
}

// IssueToken signs a token for user.
func (s *Server) IssueToken(user community.User) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(s.tokenTTL).Unix(),
		"jti":   uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

func (s *Server) count(c *fiber.Ctx) error {
	route := c.Method() + " " + routeTemplate(c.Path())

	s.mu.Lock()
	s.requests[route]++
	f, failing := s.failures[route]
	if failing {
		f.times--
		if f.times <= 0 {
			delete(s.failures, route)
		}
	}
	s.mu.Unlock()

	if failing {
		return fail(c, f.status, f.code, "injected failure")
	}
	return c.Next()
}

func (s *Server) authenticated(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return fail(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "missing token")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return fail(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
	}

	sub, _ := claims.GetSubject()
	s.mu.Lock()
	_, revoked := s.revoked[sub]
	acc := s.accountByIDLocked(sub)
	s.mu.Unlock()
	if revoked || acc == nil {
		return fail(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "session expired")
	}

	c.Locals("user_id", sub)
	return c.Next()
}

func (s *Server) register(c *fiber.Ctx) error {
	var req community.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || len(req.Password) < 8 || req.Username == "" {
		return fail(c, fiber.StatusBadRequest, "VALIDATION_ERROR", "missing fields")
	}

	s.mu.Lock()
	if _, taken := s.accounts[email]; taken {
		s.mu.Unlock()
		return fail(c, fiber.StatusConflict, "CONFLICT", "email already in use")
	}
	for _, acc := range s.accounts {
		if acc.user.Username == req.Username {
			s.mu.Unlock()
			return fail(c, fiber.StatusConflict, "CONFLICT", "username already in use")
		}
	}
	acc := s.newAccountLocked(req.Name, email, req.Password, req.Username)
	acc.otp = s.otpGenerator()
	user := acc.user
	s.mu.Unlock()

	body := fiber.Map{"user": user, "requiresVerification": true}
	if s.issueOnSignup {
		token, err := s.IssueToken(user)
		if err != nil {
			return fail(c, fiber.StatusInternalServerError, "SERVER_ERROR", err.Error())
		}
		body["token"] = token
	}
	return c.Status(fiber.StatusCreated).JSON(body)
}

func (s *Server) login(c *fiber.Ctx) error {
	var req community.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
	}

	s.mu.Lock()
	acc, ok := s.accounts[strings.ToLower(req.Email)]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(req.Password)) != nil {
		return fail(c, fiber.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password")
	}
	if !acc.user.EmailVerified {
		return fail(c, fiber.StatusForbidden, "EMAIL_NOT_VERIFIED", "verify your email first")
	}

	s.mu.Lock()
	delete(s.revoked, acc.user.ID)
	user := acc.user
	s.mu.Unlock()
	return s.issue(c, fiber.StatusOK, user)
}

func (s *Server) verifyEmail(c *fiber.Ctx) error {
	var req community.VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
	}

	s.mu.Lock()
	acc, ok := s.accounts[strings.ToLower(req.Email)]
	if !ok || acc.otp == "" {
		s.mu.Unlock()
		return fail(c, fiber.StatusBadRequest, "NO_PENDING_VERIFICATION", "no pending verification")
	}
	if acc.otp != req.OTP {
		s.mu.Unlock()
		return fail(c, fiber.StatusBadRequest, "INVALID_CODE", "invalid verification code")
	}
	acc.otp = ""
	acc.user.EmailVerified = true
	delete(s.revoked, acc.user.ID)
	user := acc.user
	s.mu.Unlock()

	return s.issue(c, fiber.StatusOK, user)
}

func (s *Server) resendOTP(c *fiber.Ctx) error {
	var req community.ResendRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[strings.ToLower(req.Email)]
	if !ok {
		return fail(c, fiber.StatusNotFound, "NO_PENDING_VERIFICATION", "unknown email")
	}
	acc.otp = s.otpGenerator()
	return c.JSON(fiber.Map{"message": "code sent"})
}

func (s *Server) logout(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	s.mu.Lock()
	s.revoked[userID] = struct{}{}
	s.mu.Unlock()
	return c.JSON(fiber.Map{"message": "logged out"})
}

func (s *Server) me(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	s.mu.Lock()
	acc := s.accountByIDLocked(userID)
	s.mu.Unlock()
	if acc == nil {
		return fail(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "unknown user")
	}
	return c.JSON(fiber.Map{"user": acc.user})
}

func (s *Server) listEvents(c *fiber.Ctx) error {
	search := strings.ToLower(c.Query("search"))
	category := c.Query("category")
	featured := c.QueryBool("featured", false)
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 10)
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	s.mu.Lock()
	var matched []community.Event
	for _, ev := range s.events {
		if featured && !ev.Featured {
			continue
		}
		if category != "" && !strings.EqualFold(category, ev.Category) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(ev.Title+" "+ev.Description), search) {
			continue
		}
		matched = append(matched, *ev)
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	pages := (total + limit - 1) / limit

	return c.JSON(fiber.Map{
		"events": matched[start:end],
		"pagination": community.Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: pages,
		},
	})
}

func (s *Server) getEvent(c *fiber.Ctx) error {
	ev, ok := s.Event(c.Params("id"))
	if !ok {
		return fail(c, fiber.StatusNotFound, "NOT_FOUND", "event not found")
	}
	return c.JSON(fiber.Map{"event": ev})
}

func (s *Server) registerForEvent(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	eventID := c.Params("id")

	var body community.RegistrationData
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return fail(c, fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok {
		return fail(c, fiber.StatusNotFound, "NOT_FOUND", "event not found")
	}
	if !ev.RegistrationOpen {
		return fail(c, fiber.StatusConflict, "REGISTRATION_CLOSED", "registration is closed")
	}
	key := registrationKey(eventID, userID)
	if existing, ok := s.registrations[key]; ok && existing.Status.IsActive() {
		return fail(c, fiber.StatusConflict, "ALREADY_REGISTERED", "already registered")
	}
	if ev.IsFull() {
		return fail(c, fiber.StatusConflict, "EVENT_FULL", "event is full")
	}

	status := community.RegistrationApproved
	if ev.RequiresApproval {
		status = community.RegistrationPending
	}
	now := s.now()
	reg := &community.EventRegistration{
		ID:        uuid.NewString(),
		EventID:   eventID,
		UserID:    userID,
		Status:    status,
		Data:      body.Fields,
		CreatedAt: &now,
		UpdatedAt: &now,
	}
	s.registrations[key] = reg
	ev.CurrentAttendees++

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"registration": reg})
}

func (s *Server) cancelRegistration(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	eventID := c.Params("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[registrationKey(eventID, userID)]
	if !ok || reg.Status == community.RegistrationCancelled {
		return fail(c, fiber.StatusNotFound, "NOT_REGISTERED", "not registered")
	}
	if reg.Status.HoldsSeat() {
		if ev, ok := s.events[eventID]; ok && ev.CurrentAttendees > 0 {
			ev.CurrentAttendees--
		}
	}
	now := s.now()
	reg.Status = community.RegistrationCancelled
	reg.UpdatedAt = &now
	return c.JSON(fiber.Map{"message": "registration cancelled"})
}

func (s *Server) userRegistrations(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if c.Params("id") != userID {
		return fail(c, fiber.StatusForbidden, "FORBIDDEN", "not your registrations")
	}

	s.mu.Lock()
	out := []community.EventRegistration{}
	for _, reg := range s.registrations {
		if reg.UserID == userID {
			out = append(out, *reg)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return c.JSON(fiber.Map{"registrations": out})
}

func (s *Server) issue(c *fiber.Ctx, status int, user community.User) error {
	token, err := s.IssueToken(user)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "SERVER_ERROR", err.Error())
	}
	return c.Status(status).JSON(fiber.Map{"user": user, "token": token})
}

func (s *Server) newAccountLocked(name, email, password, username string) *account {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)

	id := uuid.NewString()
	if hid, err := hashid.NewUUID(email); err == nil {
		id = hid.String()
	}
	if username == "" {
		username = community.DeriveUsername(email, community.DefaultUsernameRules())
	}
	now := s.now()
	acc := &account{
		user: community.User{
			ID:        id,
			Name:      name,
			Email:     email,
			Username:  username,
			Role:      community.RoleAttendee,
			CreatedAt: &now,
		},
		passwordHash: hash,
	}
	s.accounts[email] = acc
	return acc
}

func (s *Server) accountByIDLocked(id string) *account {
	for _, acc := range s.accounts {
		if acc.user.ID == id {
			return acc
		}
	}
	return nil
}

func fail(c *fiber.Ctx, status int, code, message string) error {
	body := fiber.Map{"message": message}
	if code != "" {
		body["code"] = code
	}
	return c.Status(status).JSON(body)
}

func registrationKey(eventID, userID string) string {
	return eventID + "|" + userID
}

// routeTemplate maps concrete paths back to their route, so counters for
// /events/e1/register and /events/e2/register share a key.
func routeTemplate(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == "events":
		return "/events/:id"
	case len(parts) == 3 && parts[0] == "events" && parts[2] == "register":
		return "/events/:id/register"
	case len(parts) == 3 && parts[0] == "users" && parts[2] == "registrations":
		return "/users/:id/registrations"
	}
	return path
}

func randomOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "123456"
	}
	return fmt.Sprintf("%06d", n.Int64())
}

// Sequential returns an OTP generator yielding 100000, 100001, and so on.
func Sequential() func() string {
	var mu sync.Mutex
	next := 100000
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		code := strconv.Itoa(next)
		next++
		return code
	}
}
