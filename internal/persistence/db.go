// Package persistence provides SQLite-based run storage and compressed
// world snapshots.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/unrest/internal/agents"
	"github.com/talgya/unrest/internal/engine"
)

// ErrNoRun is returned when the database holds no runs.
var ErrNoRun = errors.New("no saved run")

// DB wraps a SQLite connection for run persistence.
type DB struct {
	conn *sqlx.DB
}

// Run is one simulation run: a seed plus the scenario it was started with.
type Run struct {
	ID        string    `db:"id" json:"id"`
	Seed      int64     `db:"seed" json:"seed"`
	StartedAt time.Time `db:"started_at" json:"started_at"`
	Scenario  string    `db:"scenario_json" json:"scenario"` // config as JSON
}

// NewRun creates a run record with a fresh id.
func NewRun(seed int64, scenario any) (Run, error) {
	b, err := json.Marshal(scenario)
	if err != nil {
		return Run{}, fmt.Errorf("encode scenario: %w", err)
	}
	return Run{
		ID:        uuid.NewString(),
		Seed:      seed,
		StartedAt: time.Now().UTC(),
		Scenario:  string(b),
	}, nil
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		scenario_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tick_stats (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		citizens INTEGER NOT NULL,
		cops INTEGER NOT NULL,
		radicalizers INTEGER NOT NULL,
		quiescent INTEGER NOT NULL,
		active INTEGER NOT NULL,
		jailed INTEGER NOT NULL,
		radicalized INTEGER NOT NULL,
		arrests INTEGER NOT NULL,
		conversions INTEGER NOT NULL,
		PRIMARY KEY (run_id, tick)
	);

	CREATE TABLE IF NOT EXISTS agents (
		run_id TEXT NOT NULL,
		id INTEGER NOT NULL,
		breed TEXT NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		vision INTEGER NOT NULL,
		hardship REAL NOT NULL,
		regime_legitimacy REAL NOT NULL,
		risk_aversion REAL NOT NULL,
		threshold REAL NOT NULL,
		grievance REAL NOT NULL,
		condition INTEGER NOT NULL,
		jail_sentence INTEGER NOT NULL,
		radicalized INTEGER NOT NULL,
		arrest_probability REAL NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		category TEXT NOT NULL,
		description TEXT NOT NULL,
		actor INTEGER NOT NULL,
		target INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		run_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (run_id, key)
	);

	CREATE INDEX IF NOT EXISTS idx_events_run_tick ON events(run_id, tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// CreateRun records a new run.
func (db *DB) CreateRun(r Run) error {
	_, err := db.conn.NamedExec(
		`INSERT INTO runs (id, seed, started_at, scenario_json)
		 VALUES (:id, :seed, :started_at, :scenario_json)`, r)
	if err != nil {
		return fmt.Errorf("create run %s: %w", r.ID, err)
	}
	return nil
}

// LatestRun returns the most recently started run.
func (db *DB) LatestRun() (Run, error) {
	var r Run
	err := db.conn.Get(&r, "SELECT id, seed, started_at, scenario_json FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNoRun
	}
	return r, err
}

// GetRun returns a run by id.
func (db *DB) GetRun(id string) (Run, error) {
	var r Run
	err := db.conn.Get(&r, "SELECT id, seed, started_at, scenario_json FROM runs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("run %s: %w", id, ErrNoRun)
	}
	return r, err
}

// SaveTickStats appends per-tick stats, replacing any rows for the same ticks.
func (db *DB) SaveTickStats(runID string, stats []engine.TickStats) error {
	return db.inTx(func(tx *sqlx.Tx) error { return saveTickStats(tx, runID, stats) })
}

// TickHistory returns the stored stats of a run, oldest first.
func (db *DB) TickHistory(runID string) ([]engine.TickStats, error) {
	var stats []engine.TickStats
	err := db.conn.Select(&stats, `SELECT tick, citizens, cops, radicalizers, quiescent, active,
		jailed, radicalized, arrests, conversions
		FROM tick_stats WHERE run_id = ? ORDER BY tick`, runID)
	return stats, err
}

// SaveAgents writes all agents of a run (full replace).
func (db *DB) SaveAgents(runID string, records []agents.Record) error {
	return db.inTx(func(tx *sqlx.Tx) error { return saveAgents(tx, runID, records) })
}

func (db *DB) inTx(fn func(tx *sqlx.Tx) error) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func saveTickStats(tx *sqlx.Tx, runID string, stats []engine.TickStats) error {
	if len(stats) == 0 {
		return nil
	}
	stmt, err := tx.Preparex(`INSERT OR REPLACE INTO tick_stats
		(run_id, tick, citizens, cops, radicalizers, quiescent, active, jailed, radicalized, arrests, conversions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range stats {
		_, err := stmt.Exec(runID, s.Tick, s.Citizens, s.Cops, s.Radicalizers,
			s.Quiescent, s.Active, s.Jailed, s.Radicalized, s.Arrests, s.Conversions)
		if err != nil {
			return fmt.Errorf("insert tick %d: %w", s.Tick, err)
		}
	}
	return nil
}

func saveAgents(tx *sqlx.Tx, runID string, records []agents.Record) error {
	if _, err := tx.Exec("DELETE FROM agents WHERE run_id = ?", runID); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO agents
		(run_id, id, breed, x, y, vision, hardship, regime_legitimacy, risk_aversion,
		 threshold, grievance, condition, jail_sentence, radicalized, arrest_probability)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		radicalized := 0
		if r.Radicalized {
			radicalized = 1
		}
		_, err := stmt.Exec(
			runID, r.ID, string(r.Breed), r.X, r.Y, r.Vision,
			r.Hardship, r.RegimeLegitimacy, r.RiskAversion,
			r.Threshold, r.Grievance, int(r.Condition), r.JailSentence,
			radicalized, r.ArrestProbability,
		)
		if err != nil {
			return fmt.Errorf("insert agent %d: %w", r.ID, err)
		}
	}
	return nil
}

func saveEvents(tx *sqlx.Tx, runID string, events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}
	stmt, err := tx.Preparex("INSERT INTO events (run_id, tick, category, description, actor, target) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.Exec(runID, e.Tick, e.Category, e.Description, e.Actor, e.Target); err != nil {
			return err
		}
	}
	return nil
}

func saveMeta(e sqlx.Execer, runID, key, value string) error {
	_, err := e.Exec(
		"INSERT OR REPLACE INTO world_meta (run_id, key, value) VALUES (?, ?, ?)",
		runID, key, value,
	)
	return err
}

// LoadAgents reads the saved agents of a run in id order.
func (db *DB) LoadAgents(runID string) ([]agents.Record, error) {
	var records []agents.Record
	err := db.conn.Select(&records, `SELECT id, breed, x, y, vision, hardship, regime_legitimacy,
		risk_aversion, threshold, grievance, condition, jail_sentence, radicalized, arrest_probability
		FROM agents WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	return records, nil
}

// SaveEvents appends events to the database.
func (db *DB) SaveEvents(runID string, events []engine.Event) error {
	return db.inTx(func(tx *sqlx.Tx) error { return saveEvents(tx, runID, events) })
}

// RecentEvents returns the most recent N events of a run, newest first.
func (db *DB) RecentEvents(runID string, limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := db.conn.Select(&events,
		`SELECT tick, category, description, actor, target FROM events
		 WHERE run_id = ? ORDER BY id DESC LIMIT ?`,
		runID, limit,
	)
	return events, err
}

// SaveMeta stores a key-value pair for a run.
func (db *DB) SaveMeta(runID, key, value string) error {
	return saveMeta(db.conn, runID, key, value)
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(runID, key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE run_id = ? AND key = ?", runID, key)
	return value, err
}

// Saver persists a running simulation incrementally. The simulation journals
// everything produced after the saver is attached, and each Save writes the
// stats and events since the previous one, replaces the agents and records the
// tick, all in one transaction.
type Saver struct {
	DB    *DB
	RunID string
	Sim   *engine.Simulation

	mu sync.Mutex
}

// NewSaver attaches a saver to sim; everything up to sim's current tick is
// treated as already stored.
func NewSaver(db *DB, runID string, sim *engine.Simulation) *Saver {
	sim.Journal()
	return &Saver{DB: db, RunID: runID, Sim: sim}
}

// Save performs an incremental save of the simulation.
func (s *Saver) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.Sim.Checkpoint()
	slog.Info("saving world state", "run", s.RunID, "tick", cp.Tick, "ticks", len(cp.Stats), "events", len(cp.Events))

	err := s.DB.inTx(func(tx *sqlx.Tx) error {
		if err := saveTickStats(tx, s.RunID, cp.Stats); err != nil {
			return fmt.Errorf("save stats: %w", err)
		}
		if err := saveEvents(tx, s.RunID, cp.Events); err != nil {
			return fmt.Errorf("save events: %w", err)
		}
		if err := saveAgents(tx, s.RunID, cp.Agents); err != nil {
			return fmt.Errorf("save agents: %w", err)
		}
		if err := saveMeta(tx, s.RunID, "last_tick", strconv.FormatUint(cp.Tick, 10)); err != nil {
			return fmt.Errorf("save meta: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.Sim.MarkSaved(cp.Tick)

	slog.Info("world state saved", "run", s.RunID)
	return nil
}
