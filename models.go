package community

import (
	"strconv"
	"strings"
	"time"
)

// User is the session identity returned by the platform.
type User struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	Email         string     `json:"email"`
	Username      string     `json:"username,omitempty"`
	EmailVerified bool       `json:"isEmailVerified"`
	Role          UserRole   `json:"role,omitempty"`
	Avatar        string     `json:"avatar,omitempty"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
}

// Session is a token plus the user it authorizes.
type Session struct {
	Token string
	User  User
}

// Valid reports whether both halves of the session are present.
func (s Session) Valid() bool {
	return s.Token != "" && s.User.ID != ""
}

// OTPPurpose identifies what a one time code is for.
type OTPPurpose string

const (
	PurposeEmailVerification OTPPurpose = "email_verification"
	PurposePasswordReset     OTPPurpose = "password_reset"
)

// PendingVerification is an email awaiting its one time code.
type PendingVerification struct {
	Email     string
	Purpose   OTPPurpose
	StartedAt time.Time
	Remaining time.Duration
}

// CanVerify reports whether a code may still be submitted.
func (p PendingVerification) CanVerify() bool {
	return p.Remaining > 0
}

// CanResend reports whether a new code may be requested.
func (p PendingVerification) CanResend() bool {
	return p.Remaining <= 0
}

// RegistrationStatus is the lifecycle status of an event registration.
type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "pending"
	RegistrationApproved  RegistrationStatus = "approved"
	RegistrationRejected  RegistrationStatus = "rejected"
	RegistrationCancelled RegistrationStatus = "cancelled"
	RegistrationAttended  RegistrationStatus = "attended"
	RegistrationNoShow    RegistrationStatus = "no_show"
)

// IsValid checks the status is known.
func (s RegistrationStatus) IsValid() bool {
	switch s {
	case RegistrationPending, RegistrationApproved, RegistrationRejected,
		RegistrationCancelled, RegistrationAttended, RegistrationNoShow:
		return true
	default:
		return false
	}
}

// IsActive reports whether the registration blocks another one for the same event.
func (s RegistrationStatus) IsActive() bool {
	return s.IsValid() && s != RegistrationCancelled
}

// HoldsSeat reports whether the registration counts against capacity.
func (s RegistrationStatus) HoldsSeat() bool {
	switch s {
	case RegistrationPending, RegistrationApproved, RegistrationAttended:
		return true
	default:
		return false
	}
}

// EventRegistration links a user to an event.
type EventRegistration struct {
	ID        string             `json:"id"`
	EventID   string             `json:"eventId"`
	UserID    string             `json:"userId"`
	Status    RegistrationStatus `json:"status"`
	Data      map[string]any     `json:"registrationData,omitempty"`
	CreatedAt *time.Time         `json:"createdAt,omitempty"`
	UpdatedAt *time.Time         `json:"updatedAt,omitempty"`
}

// Event is the subset of an event the client needs to enforce capacity.
type Event struct {
	ID                 string      `json:"id"`
	Title              string      `json:"title"`
	Description        string      `json:"description,omitempty"`
	Category           string      `json:"category,omitempty"`
	Location           string      `json:"location,omitempty"`
	StartsAt           *time.Time  `json:"startDate,omitempty"`
	EndsAt             *time.Time  `json:"endDate,omitempty"`
	MaxAttendees       int         `json:"maxAttendees"`
	CurrentAttendees   int         `json:"currentAttendees"`
	RegistrationOpen   bool        `json:"registrationOpen"`
	RequiresApproval   bool        `json:"requiresApproval"`
	Featured           bool        `json:"isFeatured,omitempty"`
	RegistrationFields []FieldSpec `json:"registrationFields,omitempty"`
	OrganizerID        string      `json:"organizerId,omitempty"`
	Demo               bool        `json:"-"`
	Stale              bool        `json:"-"`
	FetchedAt          time.Time   `json:"-"`
	Tags               []string    `json:"tags,omitempty"`
}

// Unlimited reports whether the event has no attendee cap.
func (e Event) Unlimited() bool {
	return e.MaxAttendees <= 0
}

// Remaining returns the number of available seats, -1 when unlimited.
func (e Event) Remaining() int {
	if e.Unlimited() {
		return -1
	}
	if r := e.MaxAttendees - e.CurrentAttendees; r > 0 {
		return r
	}
	return 0
}

// IsFull returns true when no seats remain.
func (e Event) IsFull() bool {
	return !e.Unlimited() && e.CurrentAttendees >= e.MaxAttendees
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// EventPage is the result of listing events.
type EventPage struct {
	Events     []Event    `json:"events"`
	Pagination Pagination `json:"pagination"`
	Stale      bool       `json:"-"`
	Demo       bool       `json:"-"`
}

// EventFilters narrows an event listing.
type EventFilters struct {
	Search   string
	Category string
	Featured bool
	Upcoming bool
	Page     int
	Limit    int
}

// cacheKey is a stable key for the filter combination.
func (f EventFilters) cacheKey() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(f.Search)))
	b.WriteByte('|')
	b.WriteString(strings.ToLower(f.Category))
	b.WriteByte('|')
	if f.Featured {
		b.WriteString("featured")
	}
	b.WriteByte('|')
	if f.Upcoming {
		b.WriteString("upcoming")
	}
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(f.Page))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(f.Limit))
	return b.String()
}

// LoginRequest is the POST /auth/login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the POST /auth/register payload.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

// VerifyRequest is the POST /auth/verify-email payload.
type VerifyRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// ResendRequest is the POST /auth/resend-otp payload.
type ResendRequest struct {
	Email string     `json:"email"`
	Type  OTPPurpose `json:"type"`
}

// AuthResult is returned by login and verify.
type AuthResult struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

// RegisterResult is returned by register. It never carries a token.
type RegisterResult struct {
	User                 *User `json:"user"`
	RequiresVerification bool  `json:"requiresVerification"`
}

// RegistrationData is the POST /events/:id/register payload.
type RegistrationData struct {
	Fields map[string]any `json:"registrationData"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
