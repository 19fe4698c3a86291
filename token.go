package community

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is what the client can read from a bearer token without the
// signing key.
type TokenClaims struct {
	Subject   string
	ExpiresAt *time.Time
	Opaque    bool
}

// Expired reports whether the token expired before now.
func (c TokenClaims) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// TokenInspector decodes bearer tokens. The server remains the authority on
// validity, the client only uses the claims to drop state it knows is stale.
type TokenInspector interface {
	Inspect(token string) (TokenClaims, error)
}

// TokenInspectorFunc adapts a function into a TokenInspector.
type TokenInspectorFunc func(token string) (TokenClaims, error)

// Inspect satisfies the TokenInspector interface.
func (f TokenInspectorFunc) Inspect(token string) (TokenClaims, error) {
	if f == nil {
		return TokenClaims{Opaque: true}, nil
	}
	return f(token)
}

// JWTInspector reads registered claims from JWTs without verifying the
// signature. Tokens that are not JWTs are reported as opaque.
type JWTInspector struct {
	parser *jwt.Parser
}

// NewJWTInspector returns a JWTInspector.
func NewJWTInspector() *JWTInspector {
	return &JWTInspector{parser: jwt.NewParser()}
}

// Inspect satisfies the TokenInspector interface.
func (i *JWTInspector) Inspect(token string) (TokenClaims, error) {
	if strings.Count(token, ".") != 2 {
		return TokenClaims{Opaque: true}, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := i.parser.ParseUnverified(token, claims); err != nil {
		return TokenClaims{}, WrapError(err, KindUnauthorized, "malformed session token")
	}

	out := TokenClaims{}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		out.ExpiresAt = &t
	}
	return out, nil
}
