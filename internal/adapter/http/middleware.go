package adapthttp

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"healthmate/internal/app"
	"healthmate/internal/domain"
)

type contextKey string

const userContextKey contextKey = "user"

const sessionCookie = "session"

func userFromContext(r *http.Request) *domain.User {
	u, _ := r.Context().Value(userContextKey).(*domain.User)
	return u
}

func userID(r *http.Request) int64 {
	if u := userFromContext(r); u != nil {
		return u.ID
	}
	return 0
}

func sessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// resolveUser identifies the caller. A nil user with a nil error means the
// request is anonymous.
func (s *Server) resolveUser(r *http.Request) (*domain.User, error) {
	if s.devUser != nil {
		return s.devUser, nil
	}

	// Reverse-proxy forward auth takes precedence when enabled.
	if remoteUser := r.Header.Get("Remote-User"); s.forwardAuth && remoteUser != "" {
		if user, err := s.auth.ValidateForwardAuth(r.Context(), remoteUser); err == nil && user != nil {
			return user, nil
		}
	}

	token := sessionToken(r)
	if token == "" {
		return nil, nil
	}
	user, err := s.auth.ValidateSession(r.Context(), token, r.UserAgent())
	if errors.Is(err, app.ErrSessionNotFound) || errors.Is(err, app.ErrSessionExpired) || errors.Is(err, app.ErrUserNotFound) {
		return nil, nil
	}
	return user, err
}

// authMiddleware rejects requests without a valid session.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.resolveUser(r)
		if err != nil {
			s.log.Error("resolve user", zap.Error(err))
			writeError(w, http.StatusInternalServerError, errors.New("internal error"))
			return
		}
		if user == nil {
			writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// optionalAuth attaches the user when a valid session is present and lets
// anonymous requests through.
func (s *Server) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.resolveUser(r)
		if err != nil {
			s.log.Warn("resolve user", zap.Error(err))
		}
		if user != nil {
			r = r.WithContext(context.WithValue(r.Context(), userContextKey, user))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		}
		if id := middleware.GetReqID(r.Context()); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		if status >= http.StatusInternalServerError {
			s.log.Error("request", fields...)
			return
		}
		s.log.Info("request", fields...)
	})
}
