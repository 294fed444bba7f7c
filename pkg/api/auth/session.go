package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"convodb/pkg/chat"
	"convodb/pkg/timeutil"
)

var ErrSessionsDisabled = errors.New("session tokens are not configured")

type sessionClaims struct {
	ExternalID string `json:"ext"`
	jwt.RegisteredClaims
}

// Sessions issues and verifies HS256 session tokens carrying a resolved
// chat.Session, so clients skip per-call identity lookup.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	clock  timeutil.Clock
}

// NewSessions returns nil when secret is empty.
func NewSessions(secret string, ttl time.Duration, clock timeutil.Clock) *Sessions {
	if secret == "" {
		return nil
	}
	if clock == nil {
		clock = timeutil.System
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{secret: []byte(secret), ttl: ttl, clock: clock}
}

// Issue signs a token for sess and returns it with its expiry.
func (s *Sessions) Issue(sess chat.Session) (string, time.Time, error) {
	if s == nil {
		return "", time.Time{}, ErrSessionsDisabled
	}
	now := s.clock.Now()
	exp := now.Add(s.ttl)
	claims := sessionClaims{
		ExternalID: sess.ExternalID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    "convodb",
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return tok, exp, nil
}

// Parse verifies a token and returns the session it carries.
func (s *Sessions) Parse(token string) (chat.Session, error) {
	if s == nil {
		return chat.Session{}, ErrSessionsDisabled
	}
	var claims sessionClaims
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}, SkipClaimsValidation: true}
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}); err != nil {
		return chat.Session{}, fmt.Errorf("parse session: %w", err)
	}
	// expiry is checked against the injected clock
	if claims.ExpiresAt == nil || !s.clock.Now().Before(claims.ExpiresAt.Time) {
		return chat.Session{}, fmt.Errorf("parse session: token expired")
	}
	if claims.Subject == "" {
		return chat.Session{}, fmt.Errorf("parse session: missing subject")
	}
	return chat.Session{UserID: claims.Subject, ExternalID: claims.ExternalID}, nil
}
