package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/linkedin-inbox/internal/apperr"
	"github.com/xkilldash9x/linkedin-inbox/internal/observability"
	"github.com/xkilldash9x/linkedin-inbox/internal/store"
)

type contextKey string

const userKey contextKey = "user"

// userFrom returns the authenticated user stored by requireUser.
func userFrom(ctx context.Context) (store.User, bool) {
	u, ok := ctx.Value(userKey).(store.User)
	return u, ok
}

// tokenFrom reads the session token from "Authorization: Bearer" or
// X-Session-Token.
func tokenFrom(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		fields := strings.Fields(auth)
		if len(fields) == 2 && strings.EqualFold(fields[0], "Bearer") {
			return fields[1]
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Session-Token"))
}

// requireUser resolves the session token to a user or answers 401.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFrom(r)
		if token == "" {
			s.fail(w, r, "", apperr.New(apperr.KindUnauthorized, "api.auth", "authentication required"))
			return
		}
		u, err := s.store.UserByToken(r.Context(), token)
		if err != nil {
			s.fail(w, r, "", err)
			return
		}
		ctx := context.WithValue(r.Context(), userKey, u)
		ctx = observability.WithLogger(ctx, observability.FromContext(ctx).With(zap.Int64("user_id", u.ID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tokenLimiter keeps one token bucket per session token.
type tokenLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newTokenLimiter(perSecond float64, burst int) *tokenLimiter {
	l := rate.Inf
	if perSecond > 0 {
		l = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &tokenLimiter{limit: l, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (t *tokenLimiter) get(token string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[token]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[token] = l
	}
	return l
}

// throttle answers 429 once a token exceeds its request rate.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := s.limiter.get(tokenFrom(r)).Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			s.fail(w, r, "", apperr.RateLimited("Too many requests", delay))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestID tags every request with an id, reusing X-Request-ID when sent,
// and scopes a logger carrying it to the request context.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := observability.WithLogger(r.Context(), s.logger.With(zap.String("request_id", id)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack passes through to the underlying writer for websocket upgrades.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		observability.FromContext(r.Context()).Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("Panic while serving request.", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeJSON(w, http.StatusInternalServerError, errorBody{Reason: string(apperr.KindInternal), Message: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// cors allows the browser UI to call the API from another origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Session-Token")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
