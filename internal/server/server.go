// File: internal/server/server.go

// Package server exposes the HTTP front door: task submission, a status
// probe, and the websocket channel mirroring screenshots and results.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/miraiminds/rouh/internal/config"
)

// TaskRunner executes one full agent loop for a submitted message.
type TaskRunner interface {
	RunTask(ctx context.Context, message string) (string, error)
}

// Server hosts the API over one agent instance. The agent's own run lock
// serializes loop executions, so concurrent submissions queue rather than
// interleave.
type Server struct {
	cfg        config.ServerConfig
	runner     TaskRunner
	hub        *Hub
	logger     *zap.Logger
	httpServer *http.Server
}

// New wires the router. hub may be shared with the browser executor so
// screenshots reach the same clients.
func New(cfg config.ServerConfig, runner TaskRunner, hub *Hub, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		runner: runner,
		hub:    hub,
		logger: logger.Named("server"),
	}
	s.httpServer = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: s.Routes(),
	}
	return s
}

// Routes builds the chi router. Exposed for httptest use.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	r.Use(s.corsMiddleware)

	r.Post("/start_task", s.handleStartTask)
	r.Get("/status", s.handleStatus)
	r.Get("/ws", s.hub.ServeWS)
	return r
}

// ListenAndServe blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.cfg.ListenAddr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down HTTP server")
		return s.httpServer.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type startTaskRequest struct {
	Message string `json:"message"`
}

type startTaskResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleStartTask runs the whole agent loop synchronously and answers with
// the extracted result. Intermediate screenshots travel out-of-band over
// the websocket channel.
func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	var req startTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, startTaskResponse{Success: false, Error: "invalid request body"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, startTaskResponse{Success: false, Error: "message is required"})
		return
	}

	result, err := s.runner.RunTask(r.Context(), req.Message)
	if err != nil {
		s.logger.Error("Task failed", zap.Error(err))
		s.hub.BroadcastTaskResult(err.Error(), false)
		writeJSON(w, http.StatusInternalServerError, startTaskResponse{Success: false, Error: err.Error()})
		return
	}

	s.hub.BroadcastTaskResult(result, true)
	writeJSON(w, http.StatusOK, startTaskResponse{Success: true, Result: result})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// corsMiddleware provides the CORS support the dashboard needs.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	origin := "*"
	if len(s.cfg.AllowedOrigins) > 0 {
		origin = s.cfg.AllowedOrigins[0]
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
