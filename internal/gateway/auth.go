package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/flemzord/strmsync/internal/security"
	"github.com/flemzord/strmsync/internal/session"
)

type ctxKey struct{}

// userFrom returns the username authenticated for the request.
func userFrom(ctx context.Context) string {
	u, _ := ctx.Value(ctxKey{}).(string)
	return u
}

// tokenResponse is the body of a successful login.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin issues a token for a JSON or form encoded username and
// password.
func (g *Gateway) handleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		if err := g.allow(security.KindLogin, client); err != nil {
			g.emit(r, security.AuditEvent{Type: security.EventRateLimit, Detail: "login"})
			g.failErr(w, r, err)
			return
		}

		var req loginRequest
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
			r.Body = http.MaxBytesReader(w, r.Body, int64(g.config.MaxBodyBytes))
			if err := r.ParseForm(); err != nil {
				fail(w, http.StatusBadRequest, "invalid form")
				return
			}
			req.Username = r.PostForm.Get("username")
			req.Password = r.PostForm.Get("password")
		} else if err := security.ReadJSONBody(r.Body, g.config.MaxBodyBytes, &req); err != nil {
			g.failErr(w, r, err)
			return
		}

		token, err := g.sessions.Issue(r.Context(), req.Username, req.Password)
		if err != nil {
			g.emit(r, security.AuditEvent{Type: security.EventLoginFailure, User: req.Username, Detail: err.Error()})
			if errors.Is(err, session.ErrBadCredentials) {
				w.Header().Set("WWW-Authenticate", "Bearer")
			}
			g.failErr(w, r, err)
			return
		}

		g.emit(r, security.AuditEvent{Type: security.EventLoginSuccess, User: req.Username})
		writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
	}
}

// handleLogout revokes the bearer token of the request. It succeeds for
// any token, even one that cannot be decoded.
func (g *Gateway) handleLogout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			fail(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		user, _ := g.sessions.Verify(token)
		if err := g.sessions.Revoke(token); err != nil {
			g.logger.Warn("logout: revoke token", "error", err)
		}
		g.emit(r, security.AuditEvent{Type: security.EventLogout, User: user})
		ok(w, "logged out", nil)
	}
}

// authMiddleware rejects requests without a valid bearer token. With
// allowQuery the token may also be passed as the token query parameter,
// for websocket clients that cannot set headers.
func (g *Gateway) authMiddleware(allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" && allowQuery {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				fail(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			user, err := g.sessions.Verify(token)
			if err != nil {
				g.emit(r, security.AuditEvent{Type: security.EventTokenRejected, Detail: err.Error()})
				w.Header().Set("WWW-Authenticate", "Bearer")
				g.failErr(w, r, err)
				return
			}

			if err := g.allow(security.KindAPI, user); err != nil {
				g.emit(r, security.AuditEvent{Type: security.EventRateLimit, User: user, Detail: "api"})
				g.failErr(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(auth, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (g *Gateway) allow(kind, client string) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Allow(kind, client)
}

// emit writes an audit event stamped with the request's remote address
// and authenticated user.
func (g *Gateway) emit(r *http.Request, event security.AuditEvent) {
	if event.User == "" {
		event.User = userFrom(r.Context())
	}
	event.RemoteAddr = clientIP(r)
	g.audit.Log(event)
}
