// Package api provides the HTTP API for running and browsing simulations.
// GET endpoints are public. Running a simulation is rate limited per client.
// DELETE endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/evolab/internal/config"
	"github.com/talgya/evolab/internal/engine"
	"github.com/talgya/evolab/internal/lab"
	"github.com/talgya/evolab/internal/persistence"
)

const (
	maxStreams   = 4
	maxBodyBytes = 64 * 1024
)

// Server serves simulations over HTTP.
type Server struct {
	Config  *config.Config
	DB      *persistence.DB // Nil disables the run archive endpoints.
	Version string

	limiter  *RateLimiter
	upgrader websocket.Upgrader

	// Active websocket stream count (atomic).
	streams int32
}

// NewServer creates a server for cfg. db may be nil.
func NewServer(cfg *config.Config, db *persistence.DB, version string) *Server {
	return &Server{
		Config:  cfg,
		DB:      db,
		Version: version,
		limiter: NewRateLimiter(cfg.Server.RunsPerHour, time.Hour),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
	}
}

// Handler returns the routed API with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/models", s.handleModels)
	mux.HandleFunc("POST /api/v1/run/{model}", RateLimitMiddleware(s.limiter, s.handleRun))
	mux.HandleFunc("GET /api/v1/stream/{model}", RateLimitMiddleware(s.limiter, s.handleStream))

	mux.HandleFunc("GET /api/v1/runs", s.archiveOnly(s.handleRuns))
	mux.HandleFunc("GET /api/v1/runs/{id}", s.archiveOnly(s.handleRunDetail))
	mux.HandleFunc("DELETE /api/v1/runs/{id}", s.archiveOnly(s.adminOnly(s.handleDeleteRun)))

	s.upgrader.CheckOrigin = s.originAllowed
	return corsMiddleware(s.Config.Server.CORSOrigins, mux)
}

// ListenAndServe serves the API until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.Config.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					slog.Error("HTTP shutdown error", "error", err)
				}
				return
			case <-ticker.C:
				s.limiter.Cleanup()
			}
		}
	}()

	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.Config.Server.AdminKey != "", "archive", s.DB != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("HTTP API stopped")
	return nil
}

var localOrigins = []string{
	"http://localhost:5173",
	"http://localhost:4173",
	"http://localhost:3000",
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Localhost dev servers are always allowed.
func corsMiddleware(extra []string, next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{}
	for _, origin := range localOrigins {
		allowedOrigins[origin] = true
	}
	for _, origin := range extra {
		allowedOrigins[origin] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originAllowed gates websocket upgrades. Non-browser clients send no Origin.
func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range localOrigins {
		if o == origin {
			return true
		}
	}
	for _, o := range s.Config.Server.CORSOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.Config.Server.AdminKey
}

// adminOnly wraps a handler to require bearer token auth.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Config.Server.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no EVOLAB_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// archiveOnly rejects archive requests when no database is configured.
func (s *Server) archiveOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.DB == nil {
			http.Error(w, "run archive disabled (no storage.path set)", http.StatusServiceUnavailable)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	models := lab.Models()
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	writeJSON(w, map[string]any{
		"name":            "evolab",
		"version":         s.Version,
		"models":          names,
		"archive":         s.DB != nil,
		"max_generations": s.Config.Server.MaxGenerations,
	})
}

type modelInfo struct {
	lab.Info
	Defaults any `json:"defaults"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models := lab.Models()
	out := make([]modelInfo, len(models))
	for i, m := range models {
		sec, _ := lab.Section(s.Config, m.Name)
		out[i] = modelInfo{Info: m, Defaults: sec}
	}
	writeJSON(w, out)
}

// prepare builds the effective config for a request: the server config with
// the model section overridden by body (partial JSON, may be empty).
func (s *Server) prepare(model string, body io.Reader) (*config.Config, int64, error) {
	if !lab.Known(model) {
		return nil, 0, engine.Invalidf("unknown model %q", model)
	}

	cfg := cloneConfig(s.Config)
	sec, _ := lab.Section(cfg, model)
	if body != nil {
		dec := json.NewDecoder(body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(sec); err != nil && !errors.Is(err, io.EOF) {
			return nil, 0, engine.Invalidf("decoding %s config: %v", model, err)
		}
	}
	if v, ok := sec.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, 0, err
		}
	}

	gens, _ := lab.Generations(cfg, model)
	if gens > cfg.Server.MaxGenerations {
		return nil, 0, engine.Invalidf("%d generations exceeds the server limit of %d", gens, cfg.Server.MaxGenerations)
	}
	return cfg, cfg.Seed, nil
}

// cloneConfig copies cfg so request overrides never touch shared state.
func cloneConfig(cfg *config.Config) *config.Config {
	c := *cfg
	if p := c.HawkDove.InitialHawkFraction; p != nil {
		v := *p
		c.HawkDove.InitialHawkFraction = &v
	}
	if p := c.HawkDove.BaselineFitness; p != nil {
		v := *p
		c.HawkDove.BaselineFitness = &v
	}
	return &c
}

func parseSeed(r *http.Request, fallback int64) (int64, error) {
	v := r.URL.Query().Get("seed")
	if v == "" {
		return fallback, nil
	}
	seed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, engine.Invalidf("seed must be an integer, got %q", v)
	}
	return seed, nil
}

// writeRunError maps configuration errors to 400 and everything else to 500.
func writeRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrInvalidConfig) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slog.Error("run failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

type runResponse struct {
	ID string `json:"id,omitempty"`
	*lab.Report
}

// handleRun runs a simulation synchronously and returns its full report.
// ?save=1 stores the run in the archive.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	cfg, seed, err := s.prepare(model, http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeRunError(w, err)
		return
	}
	if seed, err = parseSeed(r, seed); err != nil {
		writeRunError(w, err)
		return
	}

	rep, err := lab.Run(model, cfg, seed, nil)
	if err != nil {
		writeRunError(w, err)
		return
	}

	resp := runResponse{Report: rep}
	if r.URL.Query().Get("save") == "1" {
		if s.DB == nil {
			http.Error(w, "run archive disabled (no storage.path set)", http.StatusServiceUnavailable)
			return
		}
		id, err := s.DB.SaveReport(rep)
		if err != nil {
			writeRunError(w, err)
			return
		}
		resp.ID = id
	}
	writeJSON(w, resp)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	model := r.URL.Query().Get("model")
	if model != "" && !lab.Known(model) {
		http.Error(w, fmt.Sprintf("unknown model %q", model), http.StatusBadRequest)
		return
	}

	runs, err := s.DB.ListRuns(model, limit)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.DB.GetRun(id)
	if errors.Is(err, persistence.ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeRunError(w, err)
		return
	}

	entries, err := s.DB.LoadEntries(id)
	if err != nil {
		writeRunError(w, err)
		return
	}
	events, err := s.DB.LoadEvents(id)
	if err != nil {
		writeRunError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"run":     run,
		"entries": entries,
		"events":  events,
	})
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	err := s.DB.DeleteRun(r.PathValue("id"))
	if errors.Is(err, persistence.ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeRunError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// streamMessage is one websocket frame of a streamed run.
type streamMessage struct {
	Type       string      `json:"type"` // "generation" or "done"
	Generation int         `json:"generation,omitempty"`
	Snapshot   any         `json:"snapshot,omitempty"`
	Report     *lab.Report `json:"report,omitempty"`
}

// handleStream runs a simulation and pushes each snapshot over a websocket
// as it is recorded, then a final "done" frame carrying the report without
// its entries. Overrides come from the optional "config" query parameter.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")

	var body io.Reader
	if c := r.URL.Query().Get("config"); c != "" {
		body = strings.NewReader(c)
	}
	cfg, seed, err := s.prepare(model, body)
	if err != nil {
		writeRunError(w, err)
		return
	}
	if seed, err = parseSeed(r, seed); err != nil {
		writeRunError(w, err)
		return
	}

	current := atomic.AddInt32(&s.streams, 1)
	defer atomic.AddInt32(&s.streams, -1)
	if current > maxStreams {
		http.Error(w, "too many streams", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	broken := false
	send := func(msg streamMessage) {
		if broken {
			return
		}
		if err := writeWS(conn, msg); err != nil {
			slog.Debug("stream client gone", "model", model, "error", err)
			broken = true
		}
	}

	rep, err := lab.Run(model, cfg, seed, func(gen int, snap any) {
		send(streamMessage{Type: "generation", Generation: gen, Snapshot: snap})
	})
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()), time.Now().Add(time.Second))
		return
	}

	summary := *rep
	summary.Entries = nil
	send(streamMessage{Type: "done", Report: &summary})
	if !broken {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), time.Now().Add(time.Second))
	}
}

func writeWS(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
