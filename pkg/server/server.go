// Package server wraps the qBittorrent-compatible HTTP Adapter (and its
// metrics/health/log routes) in a chi router with graceful shutdown.
//
// Grounded on decypharr's pkg/server/server.go (chi.Mux + middleware.
// Recoverer, mounted handler map, ListenAndServe/Shutdown pattern, a
// /logs route streaming the log file).
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/jbrannan/flowgate/internal/logger"
)

// Server is the top-level HTTP listener: the mounted handlers (cmd/flowgate
// mounts the qBittorrent Adapter at "/api/v2"), plus /health and /logs.
type Server struct {
	router *chi.Mux
	log    zerolog.Logger
	bind   string
}

// New mounts handlers (keyed by path prefix, e.g. "/api/v2" for the
// qBittorrent Adapter, "/metrics" for the JSON counters) behind chi's panic
// recoverer.
func New(bind string, handlers map[string]http.Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	for pattern, handler := range handlers {
		r.Mount(pattern, handler)
	}
	r.Get("/logs", handleLogs)
	r.Get("/health", handleHealth)

	return &Server{router: r, log: logger.New("http"), bind: bind}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.bind,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.bind).Msg("starting http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// shutdownTimeout matches the worker cancellation hard timeout (spec §5).
const shutdownTimeout = 10 * time.Second

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

func handleLogs(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(logger.LogPath())
	if err != nil {
		http.Error(w, "error reading log file", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if _, err := io.Copy(w, f); err != nil {
		http.Error(w, "error streaming log file", http.StatusInternalServerError)
	}
}
