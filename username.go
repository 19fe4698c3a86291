package community

import (
	"regexp"
	"strings"
)

var usernameCharset = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// UsernameRules controls how a username is derived from an email.
type UsernameRules struct {
	MinLength int
	MaxLength int
	Suffix    string
}

// DefaultUsernameRules returns the rules from DefaultConfig.
func DefaultUsernameRules() UsernameRules {
	cfg := DefaultConfig()
	return UsernameRules{
		MinLength: cfg.UsernameMinLength,
		MaxLength: cfg.UsernameMaxLength,
		Suffix:    cfg.UsernameSuffix,
	}
}

// DeriveUsername builds a username from the local part of email: only
// letters, digits and underscores survive, short results get the suffix
// appended and the result is cut to MaxLength.
func DeriveUsername(email string, rules UsernameRules) string {
	local := strings.TrimSpace(email)
	if at := strings.Index(local, "@"); at >= 0 {
		local = local[:at]
	}

	var b strings.Builder
	for _, r := range strings.ToLower(local) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	username := b.String()

	if len(username) < rules.MinLength {
		username += rules.Suffix
	}

	if rules.MaxLength > 0 && len(username) > rules.MaxLength {
		username = username[:rules.MaxLength]
	}

	return username
}
