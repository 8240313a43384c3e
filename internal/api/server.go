// Package api exposes the inbox over HTTP: JSON endpoints for users,
// conversations and the governed LinkedIn flows, and a websocket stream of
// governor status.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/linkedin-inbox/internal/browser/session"
	"github.com/xkilldash9x/linkedin-inbox/internal/config"
	"github.com/xkilldash9x/linkedin-inbox/internal/governor"
	"github.com/xkilldash9x/linkedin-inbox/internal/inbox"
	"github.com/xkilldash9x/linkedin-inbox/internal/store"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is the persistence the handlers read and write.
type Store interface {
	Ping(ctx context.Context) error
	CreateOrLoginUser(ctx context.Context, username string, email *string) (store.User, bool, error)
	UserByToken(ctx context.Context, token string) (store.User, error)
	UpdateProfile(ctx context.Context, id int64, p store.ProfileUpdate) (store.User, error)
	Logout(ctx context.Context, id int64) error
	SetLinkedInLoggedIn(ctx context.Context, userID int64, loggedIn bool) error
	LinkedInSession(ctx context.Context, userID int64) (store.LinkedInSession, error)
	Conversations(ctx context.Context, account string) ([]store.Summary, error)
	Conversation(ctx context.Context, id int64, account string) (store.Conversation, error)
	Messages(ctx context.Context, conversationID int64, account string) ([]store.Message, error)
	DeleteConversation(ctx context.Context, conversationID int64, account string) error
}

// Inbox runs the governed flows.
type Inbox interface {
	Send(ctx context.Context, o inbox.Owner, req inbox.SendRequest) (*inbox.SendResult, error)
	Scrape(ctx context.Context, o inbox.Owner, limit int) (*inbox.BatchResult, error)
	Rescrape(ctx context.Context, o inbox.Owner, limit int) (*inbox.BatchResult, error)
	Sync(ctx context.Context, o inbox.Owner, limit int) (*inbox.BatchResult, error)
}

// Governor reports budgets.
type Governor interface {
	CanPerform(account string, cat governor.Category) governor.Decision
	Status(account string) governor.Status
}

// Sessions owns the per user browser sessions.
type Sessions interface {
	Login(ctx context.Context, key string) (*session.Handle, error)
	Lookup(key string) (*session.Controller, bool)
	Close(ctx context.Context, key string) error
}

// Server is the HTTP surface.
type Server struct {
	cfg      config.ServerConfig
	store    Store
	inbox    Inbox
	gov      Governor
	sessions Sessions
	logger   *zap.Logger
	limiter  *tokenLimiter
	hub      *hub

	// base outlives requests; background logins run on it.
	base   context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup
}

// New creates a Server.
func New(cfg config.ServerConfig, st Store, ib Inbox, gov Governor, sessions Sessions, logger *zap.Logger) (*Server, error) {
	if st == nil || ib == nil || gov == nil || sessions == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize api server with nil dependencies")
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 5 * time.Second
	}
	base, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		store:    st,
		inbox:    ib,
		gov:      gov,
		sessions: sessions,
		logger:   logger.Named("api"),
		limiter:  newTokenLimiter(cfg.RequestsPerSecond, cfg.Burst),
		hub:      newHub(cfg.MaxSocketsPerUser),
		base:     base,
		cancel:   cancel,
	}, nil
}

// Handler returns the routed handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	// The websocket authenticates itself; browsers cannot set headers on it.
	mux.HandleFunc("GET /api/ws", s.handleStatusStream)

	authed := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.requireUser(s.throttle(h)))
	}
	authed("GET /api/auth/me", s.handleMe)
	authed("PUT /api/auth/profile", s.handleUpdateProfile)
	authed("POST /api/auth/logout", s.handleLogout)
	authed("GET /api/conversations", s.handleConversations)
	authed("GET /api/conversations/{id}/messages", s.handleMessages)
	authed("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	authed("POST /api/send-message", s.handleSend)
	authed("POST /api/scrape-conversations", s.handleScrape)
	authed("POST /api/rescrape", s.handleRescrape)
	authed("POST /api/sync-conversations", s.handleSync)
	authed("GET /api/rate-limit-status", s.handleRateLimitStatus)
	authed("GET /api/linkedin-status", s.handleLinkedInStatus)
	authed("POST /api/linkedin-login", s.handleLinkedInLogin)
	authed("POST /api/linkedin-detect-profile", s.handleDetectProfile)
	authed("POST /api/linkedin-logout", s.handleLinkedInLogout)

	return s.recoverer(s.requestID(s.logRequests(cors(mux))))
}

// Run serves on the configured port until ctx is done, then shuts down
// gracefully and waits for background logins to stop.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.Close()
		if err != nil {
			return fmt.Errorf("failed to serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server...")
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	if err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// Close cancels background work, disconnects status streams and waits for
// both to finish.
func (s *Server) Close() {
	s.cancel()
	s.hub.closeAll()
	s.bg.Wait()
}

func (s *Server) goBackground(fn func(ctx context.Context)) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn(s.base)
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("Health check failed.", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "unavailable", "database": "down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "database": "up"})
}
