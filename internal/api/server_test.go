package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/unrest/internal/agents"
	"github.com/talgya/unrest/internal/engine"
	"github.com/talgya/unrest/internal/persistence"
)

func newTestSimulation(t *testing.T) *engine.Simulation {
	t.Helper()
	sim, err := engine.NewSimulation(engine.Options{
		Width:  12,
		Height: 10,
		Torus:  true,
		Seed:   17,
		Order:  engine.OrderRandom,
		Params: agents.Params{Movement: true, ArrestProbConstant: 2.3, MaxJailTerm: 5},
		Scenario: agents.Scenario{
			CitizenDensity:     0.6,
			CopDensity:         0.1,
			RadicalizerDensity: 0.05,
			CitizenVision:      7,
			CopVision:          7,
			RadicalizerVision:  7,
			Legitimacy:         0.4,
			Threshold:          0.1,
		},
	})
	require.NoError(t, err)
	return sim
}

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	return serve(t, newTestSimulation(t), nil, 5)
}

// serve steps sim the given number of ticks, then wraps it in a server.
// A non-nil db is attached before stepping.
func serve(t *testing.T, sim *engine.Simulation, db *persistence.DB, ticks int) (*Server, http.Handler) {
	t.Helper()
	var saver *persistence.Saver
	if db != nil {
		saver = persistence.NewSaver(db, "test-run", sim)
	}
	for i := 0; i < ticks; i++ {
		require.NoError(t, sim.Step())
	}

	s := &Server{
		Sim:         sim,
		DB:          db,
		Saver:       saver,
		Eng:         engine.NewEngine(),
		RunID:       "test-run",
		SnapshotDir: t.TempDir(),
		AdminKey:    "secret",
	}
	h := s.Handler()
	t.Cleanup(s.limiter.Close)
	return s, h
}

func get(t *testing.T, h http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestStatus(t *testing.T) {
	s, h := newTestServer(t)
	var status map[string]any
	rec := get(t, h, "/api/v1/status", &status)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test-run", status["run_id"])
	assert.EqualValues(t, 5, status["tick"])
	assert.EqualValues(t, 1, status["speed"])
	st := s.Sim.Stats()
	assert.EqualValues(t, st.Citizens+st.Cops+st.Radicalizers, status["population"])
}

func TestAgentsFilters(t *testing.T) {
	s, h := newTestServer(t)
	all := s.Sim.Records()

	var got []agents.Record
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/agents", &got).Code)
	assert.Len(t, got, len(all))

	got = nil
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/agents?breed=cop", &got).Code)
	assert.NotEmpty(t, got)
	for _, r := range got {
		assert.Equal(t, agents.BreedCop, r.Breed)
	}

	got = nil
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/agents?condition=quiescent", &got).Code)
	for _, r := range got {
		assert.Equal(t, agents.BreedCitizen, r.Breed)
		assert.Equal(t, agents.Quiescent, r.Condition)
	}

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/agents?condition=rioting", nil).Code)
}

func TestAgentDetail(t *testing.T) {
	s, h := newTestServer(t)
	want := s.Sim.Records()[0]

	var got agents.Record
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/agent/"+strconv.FormatUint(uint64(want.ID), 10), &got).Code)
	assert.Equal(t, want, got)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/agent/999999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/agent/abc", nil).Code)
}

func TestStatsAndHistory(t *testing.T) {
	s, h := newTestServer(t)

	var st engine.TickStats
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/stats", &st).Code)
	assert.Equal(t, s.Sim.Stats(), st)

	var hist []engine.TickStats
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/stats/history?since=2", &hist).Code)
	require.Len(t, hist, 3)
	assert.Equal(t, uint64(3), hist[0].Tick)

	hist = nil
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/stats/history?limit=2", &hist).Code)
	require.Len(t, hist, 2)
	assert.Equal(t, uint64(5), hist[1].Tick)
}

func openTestDB(t *testing.T) *persistence.DB {
	t.Helper()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStatsHistoryFromDatabase(t *testing.T) {
	s, h := serve(t, newTestSimulation(t), openTestDB(t), 5)
	require.NoError(t, s.Saver.Save())

	var hist []engine.TickStats
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/stats/history", &hist).Code)
	assert.Equal(t, s.Sim.History(0), hist)

	// Ticks stepped after the save are served from memory.
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Sim.Step())
	}
	hist = nil
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/stats/history", &hist).Code)
	require.Len(t, hist, 9)
	assert.Equal(t, uint64(9), hist[len(hist)-1].Tick)
	assert.Equal(t, s.Sim.History(0), hist)

	hist = nil
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/stats/history?since=3&limit=3", &hist).Code)
	require.Len(t, hist, 3)
	assert.Equal(t, uint64(7), hist[0].Tick)
}

func TestEventsFromDatabase(t *testing.T) {
	s, h := serve(t, newTestSimulation(t), openTestDB(t), 5)
	require.NoError(t, s.Saver.Save())
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Sim.Step())
	}
	want := s.Sim.Events(0)
	require.NotEmpty(t, want)

	var events []engine.Event
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/events?limit=500", &events).Code)
	assert.Equal(t, want, events, "stored and unsaved events, each once")

	// Events survive in the database once memory no longer has them.
	_, h2 := serve(t, newTestSimulation(t), s.DB, 0)
	events = nil
	require.Equal(t, http.StatusOK, get(t, h2, "/api/v1/events?limit=500", &events).Code)
	var stored []engine.Event
	for _, e := range want {
		if e.Tick <= 5 {
			stored = append(stored, e)
		}
	}
	assert.Equal(t, stored, events)
}

func TestEvents(t *testing.T) {
	_, h := newTestServer(t)
	var events []engine.Event
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/events?category=arrest&limit=500", &events).Code)
	for _, e := range events {
		assert.Equal(t, "arrest", e.Category)
	}
	rec := get(t, h, "/api/v1/events?category=none", nil)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestGrid(t *testing.T) {
	s, h := newTestServer(t)
	var grid struct {
		Width  int      `json:"width"`
		Height int      `json:"height"`
		Rows   []string `json:"rows"`
	}
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/grid", &grid).Code)
	require.Len(t, grid.Rows, 10)

	occupied := 0
	for _, row := range grid.Rows {
		assert.Len(t, row, 12)
		occupied += 12 - strings.Count(row, ".")
	}
	assert.Equal(t, len(s.Sim.Records()), occupied)
}

func TestAdminAuth(t *testing.T) {
	s, h := newTestServer(t)

	post := func(path, token, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, post("/api/v1/speed", "", `{"speed":2}`).Code)
	assert.Equal(t, http.StatusUnauthorized, post("/api/v1/speed", "wrong", `{"speed":2}`).Code)
	assert.Equal(t, http.StatusBadRequest, post("/api/v1/speed", "secret", `{"speed":-1}`).Code)
	assert.Equal(t, http.StatusBadRequest, post("/api/v1/speed", "secret", `nope`).Code)

	rec := post("/api/v1/speed", "secret", `{"speed":2.5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.5, s.Eng.Speed())

	var speed map[string]float64
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/speed", &speed).Code)
	assert.Equal(t, 2.5, speed["speed"])

	s.AdminKey = ""
	assert.Equal(t, http.StatusForbidden, post("/api/v1/speed", "secret", `{"speed":1}`).Code)
}

func TestSnapshotEndpoint(t *testing.T) {
	s, h := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/snapshot", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	path, _ := resp["path"].(string)
	require.NotEmpty(t, path)

	snap, err := persistence.ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, s.Sim.Records(), snap.Agents)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/snapshot", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORS(t *testing.T) {
	_, h := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStream(t *testing.T) {
	s, h := newTestServer(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var first engine.TickStats
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, uint64(5), first.Tick)

	// The subscription is registered before the first frame is written.
	require.NoError(t, s.Sim.Step())
	var next engine.TickStats
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, uint64(6), next.Tick)
}
