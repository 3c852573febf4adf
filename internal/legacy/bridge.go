// AngelaMos | 2026
// bridge.go

// Package legacy bridges the cookie-session world into the token flow during
// the migration window. Requests carrying a valid legacy session cookie but
// no bearer credential are transparently upgraded: the bridge mints a token
// pair, hands it to the client through response headers, and injects the
// access token so downstream authentication sees a normal bearer request.
package legacy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"log/slog"

	"github.com/angelamos/basecamp/internal/core"
	"github.com/angelamos/basecamp/internal/credential"
	"github.com/angelamos/basecamp/internal/middleware"
	"github.com/angelamos/basecamp/internal/session"
	"github.com/angelamos/basecamp/internal/token"
)

const (
	accessTokenHeader  = "X-Access-Token"
	refreshTokenHeader = "X-Refresh-Token"
)

type TokenIssuer interface {
	Issue(
		ctx context.Context,
		user *credential.User,
		client token.ClientContext,
	) (*token.Pair, error)
}

type UserProvider interface {
	GetByID(ctx context.Context, id string) (*credential.User, error)
}

type Config struct {
	CookieName string
	Secure     bool
}

type Bridge struct {
	sessions *session.Store
	tokens   TokenIssuer
	users    UserProvider
	cfg      Config
	logger   *slog.Logger
}

func NewBridge(
	sessions *session.Store,
	tokens TokenIssuer,
	users UserProvider,
	cfg Config,
	logger *slog.Logger,
) *Bridge {
	return &Bridge{
		sessions: sessions,
		tokens:   tokens,
		users:    users,
		cfg:      cfg,
		logger:   logger,
	}
}

// Middleware runs before authentication. Requests without the legacy cookie
// pass through untouched; the auth endpoints are skipped entirely since they
// establish credentials themselves.
func (b *Bridge) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/v1/auth/") {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(b.cfg.CookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()

		sess, err := b.sessions.Get(ctx, cookie.Value)
		if err != nil {
			// Stale or forged cookie. Expire it and carry on; the request is
			// judged on whatever bearer credential it carries.
			b.clearCookie(w)
			next.ServeHTTP(w, r)
			return
		}

		current := session.Fingerprint{
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
		}

		if err := b.sessions.Validate(ctx, sess, current); err != nil {
			if errors.Is(err, session.ErrMismatch) {
				b.clearCookie(w)
				core.JSONError(
					w,
					core.UnauthorizedError("session invalid, please sign in again"),
				)
				return
			}

			b.logger.Error("session validation failed",
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		sess, rotated, err := b.sessions.RotateIfDue(ctx, sess)
		if err != nil {
			b.logger.Error("session rotation failed",
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}
		if rotated {
			b.setCookie(w, sess.ID)
		}

		if middleware.ExtractToken(r) == "" {
			r = b.upgrade(w, r, sess)
		}

		markDeprecated(w)
		next.ServeHTTP(w, r)
	})
}

// upgrade mints a token pair for the session's user and threads the access
// token into the request. Failures degrade to the unbridged request rather
// than blocking it.
func (b *Bridge) upgrade(
	w http.ResponseWriter,
	r *http.Request,
	sess *session.Session,
) *http.Request {
	ctx := r.Context()

	user, err := b.users.GetByID(ctx, sess.UserID)
	if err != nil {
		b.logger.Error("bridge user lookup failed",
			"user_id", sess.UserID,
			"error", err,
		)
		return r
	}

	pair, err := b.tokens.Issue(ctx, user, token.ClientContext{
		UserAgent: r.UserAgent(),
		IPAddress: clientIP(r),
	})
	if err != nil {
		b.logger.Error("bridge token issue failed",
			"user_id", sess.UserID,
			"error", err,
		)
		return r
	}

	w.Header().Set(accessTokenHeader, pair.AccessToken)
	w.Header().Set(refreshTokenHeader, pair.RefreshToken)

	r.Header.Set("Authorization", "Bearer "+pair.AccessToken)

	b.logger.Info("legacy session bridged to token pair",
		"user_id", sess.UserID,
	)

	return r
}

func (b *Bridge) setCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     b.cfg.CookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   b.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (b *Bridge) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     b.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   b.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func markDeprecated(w http.ResponseWriter) {
	w.Header().Set("Deprecation", "true")
	w.Header().Set(
		"Link",
		`</docs/migration/token-auth>; rel="deprecation"`,
	)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[len(parts)-1])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}
