// Package monitor exposes the read-only HTTP surface: health, Prometheus
// metrics, replication state, and the cross-process API call ledger. It
// can run embedded in the engine or standalone against a shared ledger,
// which is how a second process watches rate budget consumption.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hypermirror/hypermirror/internal/domain"
	"github.com/hypermirror/hypermirror/internal/ledger"
	"github.com/hypermirror/hypermirror/internal/mirror"
)

// Engine is the slice of the mirror controller the monitor reads.
// A nil Engine means the monitor runs detached from any engine.
type Engine interface {
	State() mirror.StateView
	RecentEvents(n int) []domain.PositionChangeEvent
}

// Config holds server configuration.
type Config struct {
	ListenAddr   string
	StatsWindow  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8090"
	}
	if c.StatsWindow <= 0 {
		c.StatsWindow = time.Minute
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
}

// Server is the read-only HTTP server.
type Server struct {
	cfg    Config
	led    ledger.Ledger
	engine Engine
	log    zerolog.Logger
	server *http.Server
	start  time.Time
}

// NewServer builds the server; engine may be nil for detached mode.
func NewServer(cfg Config, led ledger.Ledger, engine Engine, log zerolog.Logger) *Server {
	cfg.applyDefaults()
	s := &Server{
		cfg:    cfg,
		led:    led,
		engine: engine,
		log:    log.With().Str("component", "monitor").Logger(),
		start:  time.Now(),
	}

	router := mux.NewRouter()
	router.Use(s.requestIDMiddleware)
	router.Use(s.loggingMiddleware)

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/api/calls", s.handleCalls).Methods("GET")
	api.HandleFunc("/api/state", s.handleState).Methods("GET")
	api.HandleFunc("/api/events", s.handleEvents).Methods("GET")
	router.NotFoundHandler = jsonContentTypeMiddleware(http.HandlerFunc(s.handleNotFound))

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("monitor listening")
		errc <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.start).Seconds()),
		"engine":         s.engine != nil,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

type callsResponse struct {
	Window string              `json:"window"`
	Stats  ledger.Stats        `json:"stats"`
	Recent []ledger.CallRecord `json:"recent"`
}

// handleCalls reports the shared call ledger: every cooperating process
// shows up here, not just the one hosting the monitor.
func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	window := s.cfg.StatsWindow
	if q := r.URL.Query().Get("window"); q != "" {
		d, err := time.ParseDuration(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid window %q", q))
			return
		}
		window = d
	}

	recs, err := s.led.ScanSince(r.Context(), window)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ledger scan failed: "+err.Error())
		return
	}

	const maxRecent = 20
	recent := recs
	if len(recent) > maxRecent {
		recent = recent[len(recent)-maxRecent:]
	}
	writeJSON(w, http.StatusOK, callsResponse{
		Window: window.String(),
		Stats:  ledger.ComputeStats(recs, window),
		Recent: recent,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "monitor running detached from engine")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.State())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "monitor running detached from engine")
		return
	}
	events := s.engine.RecentEvents(50)
	if events == nil {
		events = []domain.PositionChangeEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found: "+r.URL.Path)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
