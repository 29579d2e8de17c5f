// Package server runs the controller as a long-lived service: a ticker-driven
// poll loop against the grid feed, an HTTP API over the ledger and schedule,
// and a websocket stream of live tick results.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"

	"github.com/jouleflow/jouleflow/pkg/controller"
	"github.com/jouleflow/jouleflow/pkg/feed"
	"github.com/jouleflow/jouleflow/pkg/log"
	"github.com/jouleflow/jouleflow/pkg/storage"
	"github.com/jouleflow/jouleflow/pkg/types"
)

// Server orchestrates the feed, the decision engine and persistence, and
// exposes the HTTP API.
type Server struct {
	feed       feed.Provider
	storage    storage.Database
	controller *controller.Controller
	settings   types.Settings
	hub        *Hub

	listenAddr   string
	pollInterval time.Duration
	httpServer   *http.Server
}

// Configured initializes the Server with dependencies. It uses lflag to
// register command-line flags for configuration.
func Configured(f feed.Provider, db storage.Database) *Server {
	srv := &Server{
		feed:    f,
		storage: db,
		hub:     NewHub(),
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	pollInterval := lflag.Duration("poll-interval", 5*time.Second, "how often to poll the feed for the next tick")
	settingsFile := lflag.String("settings-file", "", "YAML file overriding the default tunables")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.pollInterval = *pollInterval

		s, err := types.LoadSettings(*settingsFile)
		if err != nil {
			panic(fmt.Sprintf("failed to load settings: %v", err))
		}
		srv.settings = s
		srv.controller = controller.New(s, 0)
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/status", s.handleStatus)
	apiMux.HandleFunc("GET /api/ledger", s.handleLedger)
	apiMux.HandleFunc("GET /api/history", s.handleHistory)
	apiMux.HandleFunc("GET /api/schedule", s.handleSchedule)
	apiMux.HandleFunc("GET /api/summary", s.handleSummary)
	apiMux.HandleFunc("GET /api/settings", s.handleGetSettings)
	apiMux.HandleFunc("POST /api/settings", s.handleUpdateSettings)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiMux)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return gziphandler.GzipHandler(mux)
}

// Run starts the HTTP server and the poll loop and blocks until the context
// is canceled or an error occurs. Shutdown is graceful: the in-flight tick
// finishes and the summary is flushed before returning.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capture server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		s.pollLoop(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		// wait for the in-flight tick before flushing the summary
		<-pollDone
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.storage.PutSummary(flushCtx, s.controller.Summary()); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to flush summary", slog.Any("error", err))
		}
		if err := s.httpServer.Shutdown(flushCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}
