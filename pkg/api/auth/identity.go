package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/valyala/fasthttp"

	"convodb/pkg/api/router"
	"convodb/pkg/chat"
	"convodb/pkg/config"
	"convodb/pkg/state/logger"
	"convodb/pkg/telemetry"
)

// caller role
type Role int

const (
	RoleUnauth Role = iota
	RoleFrontend
	RoleBackend
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleFrontend:
		return "frontend"
	case RoleBackend:
		return "backend"
	case RoleAdmin:
		return "admin"
	default:
		return "unauth"
	}
}

const (
	userAuthor  = "author"
	userSession = "session"
	userRole    = "role"
	userAPIKey  = "api_key"

	maxExternalIDLen = 128
)

// CreateHMACSignature signs an external user id.
func CreateHMACSignature(externalID, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(externalID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMACSignature checks a signature against every configured signing key.
func VerifyHMACSignature(externalID, signature string) bool {
	for k := range config.GetSigningKeys() {
		expected := CreateHMACSignature(externalID, k)
		if hmac.Equal([]byte(expected), []byte(signature)) {
			return true
		}
	}
	return false
}

// SecConfig is the gateway's security configuration.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	IPWhitelist    []string
	BackendKeys    map[string]struct{}
	FrontendKeys   map[string]struct{}
	AdminKeys      map[string]struct{}
}

// RoleOf returns the role the gateway assigned to the request.
func RoleOf(ctx *fasthttp.RequestCtx) Role {
	if r, ok := ctx.UserValue(userRole).(Role); ok {
		return r
	}
	return RoleUnauth
}

// APIKey returns the API key the request authenticated with.
func APIKey(ctx *fasthttp.RequestCtx) string {
	k, _ := ctx.UserValue(userAPIKey).(string)
	return k
}

// identify attaches the caller's identity: a verified session token, a
// signed external id, or for backends an unsigned X-User-ID.
func identify(ctx *fasthttp.RequestCtx, role Role, sessions *Sessions) bool {
	tr := telemetry.Track("auth.identify")
	defer tr.Finish()

	if tok := sessionToken(ctx); tok != "" && sessions != nil {
		sess, err := sessions.Parse(tok)
		if err != nil {
			logger.Warn("invalid_session_token", "remote", ctx.RemoteAddr().String(), "path", string(ctx.Path()), "error", err)
			router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "invalid session token")
			return false
		}
		ctx.SetUserValue(userSession, sess)
		return true
	}

	userID := router.GetHeader(ctx, "X-User-ID")
	sig := router.GetHeader(ctx, "X-User-Signature")

	if sig != "" {
		tr.Mark("verify_signature")
		if userID == "" || !VerifyHMACSignature(userID, sig) {
			logger.Warn("invalid_signature", "user", userID, "remote", ctx.RemoteAddr().String(), "path", string(ctx.Path()))
			router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "invalid signature")
			return false
		}
		logger.Debug("signature_verified", "user", userID, "path", string(ctx.Path()))
		ctx.SetUserValue(userAuthor, userID)
		return true
	}

	if role == RoleBackend && userID != "" {
		if len(userID) > maxExternalIDLen {
			router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "author too long")
			return false
		}
		ctx.SetUserValue(userAuthor, userID)
	}
	return true
}

func sessionToken(ctx *fasthttp.RequestCtx) string {
	if t := router.GetHeader(ctx, "X-Session-Token"); t != "" {
		return t
	}
	// browsers cannot set headers on websocket upgrades
	if string(ctx.Path()) == "/v1/live" {
		return router.GetQuery(ctx, "token")
	}
	return ""
}

// Authenticator resolves an external identity to a session.
type Authenticator interface {
	Authenticate(externalID string) (chat.Session, error)
}

var errNoIdentity = errors.New("user identity required")

// Identity returns the caller's session without writing a response.
func Identity(ctx *fasthttp.RequestCtx, a Authenticator) (chat.Session, error) {
	if s, ok := ctx.UserValue(userSession).(chat.Session); ok {
		return s, nil
	}
	ext, _ := ctx.UserValue(userAuthor).(string)
	if strings.TrimSpace(ext) == "" {
		return chat.Session{}, errNoIdentity
	}
	return a.Authenticate(ext)
}

// SessionOrFail resolves the caller's session, writing 401 when the request
// carries no identity or names an unregistered user.
func SessionOrFail(ctx *fasthttp.RequestCtx, a Authenticator) (chat.Session, bool) {
	sess, err := Identity(ctx, a)
	if err == nil {
		return sess, true
	}
	switch {
	case errors.Is(err, errNoIdentity):
		router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, err.Error())
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, chat.ErrInvalidArgument):
		router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "unknown user")
	default:
		router.WriteError(ctx, err)
	}
	return chat.Session{}, false
}

// AuthorOf returns the signed or backend-supplied external id, if any.
func AuthorOf(ctx *fasthttp.RequestCtx) string {
	if s, ok := ctx.UserValue(userSession).(chat.Session); ok {
		return s.ExternalID
	}
	ext, _ := ctx.UserValue(userAuthor).(string)
	return ext
}
