package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/galadrimteam/quakewatch/internal/auth"
)

type ctxKey string

const ctxUser ctxKey = "user"

func userFromCtx(ctx context.Context) (auth.User, bool) {
	u, ok := ctx.Value(ctxUser).(auth.User)
	return u, ok
}

func (s server) userAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.BearerToken(r) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		u, err := s.auth.UserFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUser, u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s server) adminAuthMiddleware(next http.Handler) http.Handler {
	return s.userAuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, _ := userFromCtx(r.Context())
		if !u.IsAdmin() {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      auth.User `json:"user"`
}

func (s server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !readJSONLimited(w, r, &req, 1<<14) {
		return
	}

	u, err := s.auth.Users.Authenticate(req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		s.logger.Error("login failed", "username", req.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "Authentication failed")
		return
	}

	token, exp, err := s.auth.Tokens.Issue(u)
	if err != nil {
		s.logger.Error("issue token failed", "username", u.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "Authentication failed")
		return
	}
	s.logger.Info("user logged in", "username", u.Username, "role", u.Role)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: exp, User: u})
}

// Tokens are stateless, so logout only acknowledges.
func (s server) handleLogout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, _ := userFromCtx(r.Context())
	writeJSON(w, http.StatusOK, u)
}
