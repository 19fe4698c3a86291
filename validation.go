package community

import (
	"errors"
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// RegistrationProfile is what a visitor fills in to create an account.
type RegistrationProfile struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	Username        string `json:"username,omitempty"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// Validate checks the profile using passwordMin as the minimum password size.
// A username, when given, must fit the length bounds of usernames.
func (r RegistrationProfile) Validate(passwordMin int, usernames UsernameRules) error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(passwordMin, 128)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
		validation.Field(
			&r.Username,
			validation.Length(usernames.MinLength, usernames.MaxLength),
			validation.Match(usernameCharset),
		),
	)
}

// Validate checks the code is exactly length digits.
func (r VerifyRequest) Validate(length int) error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(
			&r.OTP,
			validation.Required,
			validation.Match(otpPattern(length)).Error(fmt.Sprintf("must be a %d digit code", length)),
		),
	)
}

// Validate will run validation rules
func (r ResendRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Type, validation.Required, validation.In(PurposeEmailVerification, PurposePasswordReset)),
	)
}

// ValidateStringEquals ensures a value matches str
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

func otpPattern(length int) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`^[0-9]{%d}$`, length))
}
