package community

import (
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// ErrorKind is the structured code every error produced by this package carries.
// Callers switch on it instead of inspecting message text.
type ErrorKind string

const (
	KindUnknown               ErrorKind = ""
	KindValidation            ErrorKind = "VALIDATION_ERROR"
	KindInvalidCredentials    ErrorKind = "INVALID_CREDENTIALS"
	KindEmailNotVerified      ErrorKind = "EMAIL_NOT_VERIFIED"
	KindInvalidCode           ErrorKind = "INVALID_CODE"
	KindVerificationExpired   ErrorKind = "VERIFICATION_EXPIRED"
	KindResendThrottled       ErrorKind = "RESEND_THROTTLED"
	KindNoPendingVerification ErrorKind = "NO_PENDING_VERIFICATION"
	KindUnauthorized          ErrorKind = "UNAUTHORIZED"
	KindForbidden             ErrorKind = "FORBIDDEN"
	KindNotFound              ErrorKind = "NOT_FOUND"
	KindConflict              ErrorKind = "CONFLICT"
	KindAlreadyRegistered     ErrorKind = "ALREADY_REGISTERED"
	KindEventFull             ErrorKind = "EVENT_FULL"
	KindRegistrationClosed    ErrorKind = "REGISTRATION_CLOSED"
	KindNotRegistered         ErrorKind = "NOT_REGISTERED"
	KindNetwork               ErrorKind = "NETWORK_ERROR"
	KindServer                ErrorKind = "SERVER_ERROR"
	KindInvalidTransition     ErrorKind = "INVALID_SESSION_TRANSITION"
)

type kindSpec struct {
	category goerrors.Category
	code     int
	message  string
}

var kindSpecs = map[ErrorKind]kindSpec{
	KindValidation:            {goerrors.CategoryValidation, http.StatusBadRequest, "the submitted data is invalid"},
	KindInvalidCredentials:    {goerrors.CategoryAuth, http.StatusUnauthorized, "the credentials provided are invalid"},
	KindEmailNotVerified:      {goerrors.CategoryAuth, http.StatusForbidden, "email address has not been verified"},
	KindInvalidCode:           {goerrors.CategoryBadInput, http.StatusBadRequest, "the verification code is invalid"},
	KindVerificationExpired:   {goerrors.CategoryBadInput, http.StatusGone, "the verification window has elapsed, request a new code"},
	KindResendThrottled:       {goerrors.CategoryRateLimit, http.StatusTooManyRequests, "a new code can be requested once the countdown ends"},
	KindNoPendingVerification: {goerrors.CategoryBadInput, http.StatusBadRequest, "there is no pending verification for this email"},
	KindUnauthorized:          {goerrors.CategoryAuth, http.StatusUnauthorized, "authentication required"},
	KindForbidden:             {goerrors.CategoryAuthz, http.StatusForbidden, "you are not allowed to do this"},
	KindNotFound:              {goerrors.CategoryNotFound, http.StatusNotFound, "resource not found"},
	KindConflict:              {goerrors.CategoryConflict, http.StatusConflict, "the request conflicts with the current state"},
	KindAlreadyRegistered:     {goerrors.CategoryConflict, http.StatusConflict, "you are already registered for this event"},
	KindEventFull:             {goerrors.CategoryConflict, http.StatusConflict, "event is fully booked"},
	KindRegistrationClosed:    {goerrors.CategoryConflict, http.StatusConflict, "registration is closed for this event"},
	KindNotRegistered:         {goerrors.CategoryNotFound, http.StatusNotFound, "you are not registered for this event"},
	KindNetwork:               {goerrors.CategoryOperation, http.StatusServiceUnavailable, "unable to reach the server"},
	KindServer:                {goerrors.CategoryInternal, http.StatusInternalServerError, "something went wrong, please try again later"},
	KindInvalidTransition:     {goerrors.CategoryValidation, http.StatusConflict, "operation not allowed in the current session state"},
}

// NewError builds a rich error for kind. An empty message uses the kind default.
func NewError(kind ErrorKind, message string) *goerrors.Error {
	spec, ok := kindSpecs[kind]
	if !ok {
		spec = kindSpecs[KindServer]
		kind = KindServer
	}
	if message == "" {
		message = spec.message
	}
	return goerrors.New(message, spec.category).
		WithTextCode(string(kind)).
		WithCode(spec.code)
}

// WrapError wraps err as kind, keeping err as the source.
func WrapError(err error, kind ErrorKind, message string) *goerrors.Error {
	spec, ok := kindSpecs[kind]
	if !ok {
		spec = kindSpecs[KindServer]
		kind = KindServer
	}
	if message == "" {
		message = spec.message
	}
	return goerrors.Wrap(err, spec.category, message).
		WithTextCode(string(kind)).
		WithCode(spec.code)
}

// KindOf returns the structured kind carried by err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode != "" {
		return ErrorKind(richErr.TextCode)
	}
	return KindUnknown
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

func IsValidation(err error) bool        { return IsKind(err, KindValidation) }
func IsUnauthorized(err error) bool      { return IsKind(err, KindUnauthorized) }
func IsForbidden(err error) bool         { return IsKind(err, KindForbidden) }
func IsEventFull(err error) bool         { return IsKind(err, KindEventFull) }
func IsAlreadyRegistered(err error) bool { return IsKind(err, KindAlreadyRegistered) }
func IsEmailNotVerified(err error) bool  { return IsKind(err, KindEmailNotVerified) }
func IsInvalidCode(err error) bool       { return IsKind(err, KindInvalidCode) }
func IsNetworkError(err error) bool      { return IsKind(err, KindNetwork) }

// IsRetryable reports whether the user may resubmit the same operation as is.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindInvalidCode, KindNetwork, KindServer:
		return true
	default:
		return false
	}
}

// ValidationFields returns the per-field messages attached to a validation error.
func ValidationFields(err error) map[string]string {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Metadata == nil {
		return nil
	}
	raw, ok := richErr.Metadata["fields"].(map[string]string)
	if !ok {
		return nil
	}
	return raw
}

// validationError converts an ozzo validation result into a VALIDATION_ERROR.
func validationError(err error, message string) error {
	if err == nil {
		return nil
	}

	fields := map[string]string{}
	if verrs, ok := err.(validation.Errors); ok {
		for name, ferr := range verrs {
			if ferr != nil {
				fields[name] = ferr.Error()
			}
		}
	} else {
		fields["_"] = err.Error()
	}

	return WrapError(err, KindValidation, message).WithMetadata(map[string]any{
		"fields": fields,
	})
}

// kindFromServerCode maps the code field of an error envelope to a kind.
func kindFromServerCode(code string) (ErrorKind, bool) {
	kind := ErrorKind(strings.ToUpper(strings.TrimSpace(code)))
	if kind == KindUnknown {
		return KindUnknown, false
	}
	_, ok := kindSpecs[kind]
	return kind, ok
}

// kindFromStatus maps an HTTP status without a usable code to a kind.
func kindFromStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusTooManyRequests:
		return KindResendThrottled
	case status == http.StatusForbidden:
		return KindForbidden
	default:
		return KindServer
	}
}
