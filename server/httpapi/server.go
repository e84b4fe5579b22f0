package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/migadu/ftrd/db"
	"github.com/migadu/ftrd/logger"
	"github.com/migadu/ftrd/server/ftp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// SessionProvider lists the live FTP sessions.
type SessionProvider interface {
	Sessions() []ftp.SessionInfo
	SessionCount() int
}

// HistoryStore reads recorded transfers.
type HistoryStore interface {
	RecentTransfers(ctx context.Context, limit int) ([]db.Transfer, error)
	TransfersForUser(ctx context.Context, username string, limit int) ([]db.Transfer, error)
}

// Server represents the HTTP API server
type Server struct {
	addr         string
	apiKey       string
	allowedHosts []string
	metricsPath  string
	sessions     SessionProvider
	history      HistoryStore
	server       *http.Server
}

// ServerOptions holds configuration options for the HTTP API server
type ServerOptions struct {
	Addr         string
	APIKey       string   // Empty disables bearer authentication
	AllowedHosts []string // IPs or CIDR blocks, empty allows all
	MetricsPath  string   // Serves Prometheus metrics on this path when set
	// History may be nil; /transfers then answers 503.
	History HistoryStore
}

// New creates a new HTTP API server
func New(sessions SessionProvider, options ServerOptions) (*Server, error) {
	if sessions == nil {
		return nil, errors.New("session provider is required for HTTP API server")
	}
	for _, h := range options.AllowedHosts {
		if strings.Contains(h, "/") {
			if _, _, err := net.ParseCIDR(h); err != nil {
				return nil, err
			}
		}
	}

	return &Server{
		addr:         options.Addr,
		apiKey:       options.APIKey,
		allowedHosts: options.AllowedHosts,
		metricsPath:  options.MetricsPath,
		sessions:     sessions,
		history:      options.History,
	}, nil
}

// Start runs the HTTP API server until ctx is cancelled
func Start(ctx context.Context, sessions SessionProvider, options ServerOptions, errChan chan error) {
	server, err := New(sessions, options)
	if err != nil {
		errChan <- err
		return
	}

	logger.Info("Starting HTTP API server", "addr", options.Addr)
	if err := server.start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		errChan <- err
	}
}

func (s *Server) start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error shutting down HTTP API server", "error", err)
		}
	}()

	return s.server.ListenAndServe()
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Use(s.allowedHostsMiddleware)

	if s.metricsPath != "" {
		router.Handle(s.metricsPath, promhttp.Handler()).Methods(http.MethodGet)
	}

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authMiddleware)

	v1.HandleFunc("/health", s.allowMethod(http.MethodGet, s.handleHealth))
	v1.HandleFunc("/sessions", s.allowMethod(http.MethodGet, s.handleSessions))
	v1.HandleFunc("/transfers", s.allowMethod(http.MethodGet, s.handleTransfers))

	return router
}

// allowMethod answers 405 for any method other than method. Checking in the
// handler keeps the auth and allowed-hosts middleware in front of the 405.
func (s *Server) allowMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		next(w, r)
	}
}

// Middleware functions

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("HTTP API request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

func (s *Server) allowedHostsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowedHosts) > 0 && !s.hostAllowed(clientIP(r)) {
			s.writeError(w, http.StatusForbidden, "Host not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) hostAllowed(host string) bool {
	ip := net.ParseIP(host)
	for _, allowed := range s.allowedHosts {
		if allowed == host {
			return true
		}
		if !strings.Contains(allowed, "/") || ip == nil {
			continue
		}
		if _, cidr, err := net.ParseCIDR(allowed); err == nil && cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Only the socket peer is trusted; the API is not meant to sit behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("HTTP API: error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// Handler functions

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Sessions: s.sessions.SessionCount()})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.Sessions()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Transfer history is disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	var (
		transfers []db.Transfer
		err       error
	)
	if user := r.URL.Query().Get("user"); user != "" {
		transfers, err = s.history.TransfersForUser(r.Context(), user, limit)
	} else {
		transfers, err = s.history.RecentTransfers(r.Context(), limit)
	}
	if err != nil {
		logger.Warn("HTTP API: failed to load transfers", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load transfers")
		return
	}
	if transfers == nil {
		transfers = []db.Transfer{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"transfers": transfers,
		"count":     len(transfers),
	})
}
