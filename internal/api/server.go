// Package api provides the HTTP API for observing a running simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/unrest/internal/agents"
	"github.com/talgya/unrest/internal/engine"
	"github.com/talgya/unrest/internal/persistence"
)

const (
	maxStreamConns = 8
	maxSpeed       = 1000
)

// Server serves the world state over HTTP.
type Server struct {
	Sim         *engine.Simulation
	Eng         *engine.Engine
	DB          *persistence.DB    // nil = history served from memory, snapshots file-only
	Saver       *persistence.Saver // nil = snapshot skips the database
	RunID       string
	SnapshotDir string // empty = no snapshot files
	Port        int
	AdminKey    string // Bearer token for POST endpoints. Empty = POST disabled.

	streamConns atomic.Int32
	upgrader    websocket.Upgrader
	limiter     *RateLimiter
	http        *http.Server
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	if s.limiter == nil {
		s.limiter = NewRateLimiter(10, time.Minute)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agent/", s.handleAgentDetail)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/stats/history", s.handleStatsHistory)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/grid", s.handleGrid)

	// Websocket stream of per-tick stats.
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/snapshot", s.adminOnly(RateLimitMiddleware(s.limiter, s.handleSnapshot)))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the HTTP server and the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Close()
	}
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no UNREST_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	opts := s.Sim.Options()
	st := s.Sim.Stats()
	status := map[string]any{
		"name":        "unrest",
		"run_id":      s.RunID,
		"tick":        st.Tick,
		"seed":        opts.Seed,
		"width":       opts.Width,
		"height":      opts.Height,
		"torus":       opts.Torus,
		"order":       opts.Order,
		"params":      opts.Params,
		"population":  st.Citizens + st.Cops + st.Radicalizers,
		"active":      st.Active,
		"jailed":      st.Jailed,
		"radicalized": st.Radicalized,
	}
	if s.Eng != nil {
		status["speed"] = s.Eng.Speed()
		status["running"] = s.Eng.Running()
	}
	writeJSON(w, status)
}

// handleAgents lists agents, optionally filtered by ?breed= and ?condition=.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	breed := agents.Breed(q.Get("breed"))

	var cond *agents.Condition
	if c := q.Get("condition"); c != "" {
		parsed, err := agents.ParseCondition(c)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cond = &parsed
	}

	result := []agents.Record{}
	for _, rec := range s.Sim.Records() {
		if breed != "" && rec.Breed != breed {
			continue
		}
		if cond != nil && (rec.Breed != agents.BreedCitizen || rec.Condition != *cond) {
			continue
		}
		result = append(result, rec)
	}
	writeJSON(w, result)
}

// handleAgentDetail serves GET /api/v1/agent/:id.
func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/v1/agent/")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	rec, ok := s.Sim.Agent(agents.AgentID(id))
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Stats())
}

// handleStatsHistory serves per-tick stats after ?since=, newest ?limit= entries.
// Stored rows come from the database; ticks stepped since the last save come
// from memory.
func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	since := uint64(0)
	limit := 100
	if v, err := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64); err == nil {
		since = v
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 10000 {
			limit = v
		}
	}

	var rows []engine.TickStats
	after := since
	if s.DB != nil && s.RunID != "" {
		stored, err := s.DB.TickHistory(s.RunID)
		if err != nil {
			slog.Error("stats history query failed", "error", err)
		}
		for _, st := range stored {
			if st.Tick > since {
				rows = append(rows, st)
			}
		}
		if n := len(stored); n > 0 && stored[n-1].Tick > after {
			after = stored[n-1].Tick
		}
	}
	rows = append(rows, s.Sim.History(after)...)

	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	if rows == nil {
		rows = []engine.TickStats{}
	}
	writeJSON(w, rows)
}

// recentEventWindow is how many events handleEvents filters from.
const recentEventWindow = 1000

// handleEvents serves recent events, optionally filtered by ?category=.
// Saved events are read from the database, newer ones from memory.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	var events []engine.Event
	after := uint64(0)
	if s.DB != nil && s.RunID != "" {
		stored, err := s.DB.RecentEvents(s.RunID, recentEventWindow)
		if err != nil {
			slog.Error("events query failed", "error", err)
		}
		for i := len(stored) - 1; i >= 0; i-- {
			events = append(events, stored[i])
		}
		if len(stored) > 0 {
			after = stored[0].Tick
		}
	}
	events = append(events, s.Sim.Events(after)...)
	if len(events) > recentEventWindow {
		events = events[len(events)-recentEventWindow:]
	}

	if category := r.URL.Query().Get("category"); category != "" {
		var filtered []engine.Event
		for _, e := range events {
			if e.Category == category {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	start := 0
	if len(events) > limit {
		start = len(events) - limit
	}
	out := events[start:]
	if out == nil {
		out = []engine.Event{}
	}
	writeJSON(w, out)
}

// Grid cell glyphs.
const (
	glyphEmpty       = '.'
	glyphQuiescent   = 'q'
	glyphActive      = 'A'
	glyphJailed      = 'J'
	glyphCop         = 'C'
	glyphRadicalizer = 'R'
)

// handleGrid returns the occupancy matrix, one string per row.
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	opts := s.Sim.Options()
	rows := make([][]byte, opts.Height)
	for y := range rows {
		rows[y] = []byte(strings.Repeat(string(glyphEmpty), opts.Width))
	}
	for _, rec := range s.Sim.Records() {
		rows[rec.Y][rec.X] = glyph(rec)
	}

	out := make([]string, len(rows))
	for y, row := range rows {
		out[y] = string(row)
	}
	writeJSON(w, map[string]any{
		"tick":   s.Sim.Tick(),
		"width":  opts.Width,
		"height": opts.Height,
		"legend": map[string]string{
			string(glyphEmpty):       "empty",
			string(glyphQuiescent):   "quiescent citizen",
			string(glyphActive):      "active citizen",
			string(glyphJailed):      "jailed citizen",
			string(glyphCop):         "cop",
			string(glyphRadicalizer): "radicalizer",
		},
		"rows": out,
	})
}

func glyph(rec agents.Record) byte {
	switch rec.Breed {
	case agents.BreedCop:
		return glyphCop
	case agents.BreedRadicalizer:
		return glyphRadicalizer
	}
	switch {
	case rec.JailSentence > 0:
		return glyphJailed
	case rec.Condition == agents.Active:
		return glyphActive
	default:
		return glyphQuiescent
	}
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not available", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > maxSpeed {
			http.Error(w, fmt.Sprintf("speed must be 0-%d", maxSpeed), http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

// handleSnapshot saves the run to the database and writes a snapshot file.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Saver == nil && s.SnapshotDir == "" {
		http.Error(w, "no storage configured", http.StatusServiceUnavailable)
		return
	}

	resp := map[string]any{"tick": s.Sim.Tick()}
	if s.Saver != nil {
		if err := s.Saver.Save(); err != nil {
			slog.Error("snapshot save failed", "error", err)
			http.Error(w, "snapshot failed", http.StatusInternalServerError)
			return
		}
		resp["saved"] = true
	}
	if s.SnapshotDir != "" {
		snap := persistence.Capture(s.RunID, s.Sim)
		path := persistence.SnapshotPath(s.SnapshotDir, s.RunID, snap.Header.Tick)
		if err := persistence.WriteSnapshot(path, snap); err != nil {
			slog.Error("snapshot write failed", "path", path, "error", err)
			http.Error(w, "snapshot failed", http.StatusInternalServerError)
			return
		}
		resp["tick"] = snap.Header.Tick
		resp["path"] = path
	}
	resp["message"] = "snapshot saved"
	writeJSON(w, resp)
}

// handleStream upgrades to a websocket and pushes TickStats after every tick.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	current := s.streamConns.Add(1)
	defer s.streamConns.Add(-1)
	if current > maxStreamConns {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	subID, ch := s.Sim.Subscribe()
	defer s.Sim.Unsubscribe(subID)
	slog.Info("stream client connected", "sub_id", subID)

	// Reader: only watches for the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(st engine.TickStats) error {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteJSON(st)
	}
	if err := send(s.Sim.Stats()); err != nil {
		return
	}

	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return
			}
			if err := send(st); err != nil {
				return
			}
		case <-gone:
			slog.Info("stream client disconnected", "sub_id", subID)
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"), time.Now().Add(time.Second))
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
