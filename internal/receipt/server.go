package receipt

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/zombor/expense-tracker/internal/account"
	"github.com/zombor/expense-tracker/internal/apperr"
)

// ServerConfig holds the HTTP options that are not services
type ServerConfig struct {
	// CORSOrigin is sent as Access-Control-Allow-Origin. Empty means "*".
	CORSOrigin string
	// MaxUploadBytes bounds multipart uploads
	MaxUploadBytes int64
	// SecureCookies marks the session cookie Secure
	SecureCookies bool
}

// Server handles HTTP requests for receipts and accounts
type Server struct {
	service  *Service
	accounts *account.Service
	sessions *account.Sessions
	config   ServerConfig
	mux      *http.ServeMux

	mu   sync.Mutex
	http *http.Server
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, accounts *account.Service, sessions *account.Sessions, config ServerConfig) *Server {
	return NewServerWithMux(service, accounts, sessions, config, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, accounts *account.Service, sessions *account.Sessions, config ServerConfig, mux *http.ServeMux) *Server {
	if config.CORSOrigin == "" {
		config.CORSOrigin = "*"
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 16 << 20
	}
	s := &Server{
		service:  service,
		accounts: accounts,
		sessions: sessions,
		config:   config,
		mux:      mux,
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// setCORSHeaders sets CORS headers on a response
func (s *Server) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", s.config.CORSOrigin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
	if s.config.CORSOrigin != "*" {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
}

// sessionToken reads the session from the cookie, falling back to a bearer
// token for API clients
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(account.SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// requireAuth resolves the actor once per request and stores it on the
// request context
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			writeError(w, apperr.New(apperr.ErrUnauthenticated, "Not authenticated"), "authenticating")
			return
		}
		username, err := s.sessions.Parse(token)
		if err != nil {
			slog.Debug("Rejected session token", "error", err)
			writeError(w, apperr.New(apperr.ErrUnauthenticated, "Not authenticated"), "authenticating")
			return
		}
		actor, err := s.accounts.Resolve(username)
		if err != nil {
			writeError(w, err, "resolving actor")
			return
		}
		next(w, r.WithContext(account.WithActor(r.Context(), actor)))
	}
}

// actorFrom returns the actor stored by requireAuth
func actorFrom(r *http.Request) account.Actor {
	actor, _ := account.ActorFromContext(r.Context())
	return actor
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// Accounts
	s.mux.HandleFunc("POST /api/signup", s.handleSignup)
	s.mux.HandleFunc("POST /api/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/logout", s.handleLogout)
	s.mux.HandleFunc("GET /api/me", s.requireAuth(s.handleMe))
	s.mux.HandleFunc("GET /api/users/{username}", s.requireAuth(s.handleGetUser))
	s.mux.HandleFunc("PUT /api/users/{username}/role", s.requireAuth(s.handleSetRole))
	s.mux.HandleFunc("GET /api/users", s.requireAuth(s.handleListUsers))

	// Receipts (most specific paths first)
	s.mux.HandleFunc("POST /api/receipts/extract", s.requireAuth(s.handleUploadReceipt))
	s.mux.HandleFunc("POST /api/receipts/status", s.requireAuth(s.handleUpdateStatus))
	s.mux.HandleFunc("GET /api/receipts", s.requireAuth(s.handleListReceipts))
	s.mux.HandleFunc("POST /api/receipts", s.requireAuth(s.handleSaveReceipt))
	s.mux.HandleFunc("PUT /api/receipts", s.requireAuth(s.handleUpdateReceipt))
	s.mux.HandleFunc("DELETE /api/receipts", s.requireAuth(s.handleDeleteReceipt))
	s.mux.HandleFunc("DELETE /api/drafts/{filename}", s.requireAuth(s.handleDiscardDraft))
	s.mux.HandleFunc("GET /uploads/{filename}", s.requireAuth(s.handleGetReceiptFile))

	s.mux.HandleFunc("POST /api/chat", s.requireAuth(s.handleChat))
	s.mux.HandleFunc("GET /api/reports/team", s.requireAuth(s.handleTeamReport))
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.corsMiddleware(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux).ServeHTTP(w, r)
}
