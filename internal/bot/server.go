package bot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

// server exposes metrics, health and state over HTTP.
type server struct {
	app        *App
	httpServer *http.Server
	logger     *zap.Logger
}

func newServer(addr string, app *App, logger *zap.Logger) *server {
	s := &server{app: app, logger: logger.Named("http")}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", app.Metrics.Handler())
	mux.Handle("GET /health", app.Health.Handler())
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/metrics/trading", s.handleTradingMetrics)
	mux.HandleFunc("GET /v1/journal/stats", s.handleJournalStats)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return s
}

func (s *server) serve() error {
	s.logger.Info("HTTP server started", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *server) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Snapshot())
}

func (s *server) handleTradingMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.app.Engine.FetchMetrics(r.Context())
	if err != nil {
		s.logger.Warn("Failed to fetch trading metrics", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, domain.UserMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *server) handleJournalStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Journal.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
