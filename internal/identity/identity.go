// Package identity resolves the user behind a request: a user id forwarded
// by a trusted chat gateway, or an anonymous per-device cookie.
package identity

import (
	"context"
	"crypto/subtle"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	AnonCookieName        = "dayquest_anon_id"
	UserHeaderName        = "X-Quest-User-ID"
	GatewayHeaderName     = "X-Quest-Gateway-Token"
	SessionHeaderName     = "X-Quest-Session-ID"
	DefaultSessionIDValue = "default"
	anonCookieMaxAge      = 90 * 24 * time.Hour
	anonPrefix            = "anon_"
)

type contextKey int

const (
	userIDKey contextKey = iota
	sessionIDKey
)

var (
	userIDPattern    = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// UserCreator creates a fresh record for a user seen for the first time.
type UserCreator interface {
	EnsureUser(ctx context.Context, userID string) error
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// WithUserID returns a context carrying userID and sessionID.
func WithUserID(ctx context.Context, userID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, sessionIDKey, sanitizeSessionID(sessionID))
}

func newAnonID() string {
	return anonPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func isValidAnonID(id string) bool {
	if !strings.HasPrefix(id, anonPrefix) {
		return false
	}
	raw := strings.TrimPrefix(id, anonPrefix)
	if len(raw) != 32 {
		return false
	}
	_, err := uuid.Parse(raw)
	return err == nil
}

// IsValidUserID reports whether id can be used as a forwarded user id.
func IsValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) string {
	id := ""
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		id = c.Value
	} else {
		id = newAnonID()
	}
	setAnonCookie(w, id, isDev)
	return id
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// fromGateway reports whether the request carries the shared gateway token.
// An empty token disables forwarded identities.
func fromGateway(r *http.Request, gatewayToken string) bool {
	if gatewayToken == "" {
		return false
	}
	got := r.Header.Get(GatewayHeaderName)
	return subtle.ConstantTimeCompare([]byte(got), []byte(gatewayToken)) == 1
}

// Middleware resolves the user, makes sure a record exists for them and
// stores the ids in the request context. The X-Quest-User-ID header is
// honoured only on requests authenticated with gatewayToken; everyone else
// gets the anonymous cookie identity.
func Middleware(users UserCreator, isDev bool, gatewayToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := ""
			if fromGateway(r, gatewayToken) {
				userID = strings.TrimSpace(r.Header.Get(UserHeaderName))
			}
			if userID != "" {
				if !IsValidUserID(userID) {
					http.Error(w, `{"error":"invalid user id"}`, http.StatusBadRequest)
					return
				}
			} else {
				userID = getOrCreateAnonID(w, r, isDev)
			}

			if err := users.EnsureUser(r.Context(), userID); err != nil {
				http.Error(w, `{"error":"store unavailable, try again"}`, http.StatusServiceUnavailable)
				return
			}

			ctx := WithUserID(r.Context(), userID, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
