// Package httpapi exposes the interview orchestrator over HTTP: lifecycle
// endpoints backed by workflow queries and signals, authentication, and live
// event streams over SSE and WebSocket.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/designdrill/orchestrator/internal/auth"
	"github.com/designdrill/orchestrator/internal/config"
	"github.com/designdrill/orchestrator/internal/db"
	"github.com/designdrill/orchestrator/internal/health"
	"github.com/designdrill/orchestrator/internal/session"
	"github.com/designdrill/orchestrator/internal/streaming"
)

// Deps carries the server's collaborators. Sessions, DB, Auth, and Health are
// optional; missing ones disable the corresponding surface.
type Deps struct {
	Temporal client.Client
	Streams  *streaming.Manager
	Sessions *session.Manager
	DB       *db.Client
	Auth     *auth.Service
	Health   *health.Manager
}

// Server is the orchestrator's HTTP front.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	srv    *http.Server
}

// NewServer wires the handlers. Health and auth endpoints stay public; the
// interview and streaming routes sit behind the auth middleware.
func NewServer(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	if deps.Health != nil {
		health.NewHTTPHandler(deps.Health, logger).RegisterRoutes(mux)
	}
	if deps.Auth != nil {
		NewAuthHandler(deps.Auth, logger).RegisterRoutes(mux)
	}

	api := http.NewServeMux()
	NewInterviewHandler(cfg, deps.Temporal, deps.Streams, deps.Sessions, deps.DB, logger).RegisterRoutes(api)
	NewStreamingHandler(deps.Streams, logger).RegisterRoutes(api)

	skipAuth := !cfg.Auth.Enabled || cfg.Auth.SkipAuth || deps.Auth == nil
	var jwtManager *auth.JWTManager
	if deps.Auth != nil {
		jwtManager = deps.Auth.JWTManager()
	}
	protected := auth.NewMiddleware(deps.Auth, jwtManager, skipAuth).Handler(api)

	mux.Handle("/api/v1/interviews", protected)
	mux.Handle("/api/v1/interviews/", protected)
	mux.Handle("/stream/", protected)

	return &Server{
		cfg:    cfg,
		logger: logger,
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Service.Port),
			Handler:      mux,
			ReadTimeout:  cfg.Service.ReadTimeout,
			WriteTimeout: cfg.Service.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start serves until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// writeJSON writes a JSON response with status and content-type.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requireScopes guards a handler; a missing scope reads as 403.
func requireScopes(w http.ResponseWriter, r *http.Request, scopes ...string) bool {
	if err := auth.RequireScopes(r.Context(), scopes...); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return false
	}
	return true
}

// sanitizeErr trims error messages for safe client output (UTF-8 safe).
func sanitizeErr(s string) string {
	runes := []rune(s)
	if len(runes) > 200 {
		return string(runes[:200])
	}
	return s
}
