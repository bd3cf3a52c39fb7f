package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/talgya/unrest/internal/config"
	"github.com/talgya/unrest/internal/engine"
	"github.com/talgya/unrest/internal/persistence"
)

// session is a simulation plus the storage it saves into.
type session struct {
	cfg   config.Config
	runID string
	sim   *engine.Simulation
	db    *persistence.DB    // nil when storage.db_path is empty
	saver *persistence.Saver // nil when db is nil
}

// openSession builds a fresh run, resumes the latest saved run, or restores a
// snapshot file, in that order of precedence: snapshot, resume, fresh.
func openSession(cfg config.Config, resume bool, fromSnapshot string) (*session, error) {
	s := &session{cfg: cfg}

	if cfg.Storage.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		db, err := persistence.Open(cfg.Storage.DBPath)
		if err != nil {
			return nil, err
		}
		s.db = db
		slog.Info("database opened", "path", cfg.Storage.DBPath)
	}

	var err error
	switch {
	case fromSnapshot != "":
		err = s.restoreSnapshot(fromSnapshot)
	case resume:
		err = s.resumeLatest()
	default:
		err = s.startFresh()
	}
	if err != nil {
		s.Close()
		return nil, err
	}

	if s.db != nil {
		s.saver = persistence.NewSaver(s.db, s.runID, s.sim)
	}
	st := s.sim.Stats()
	slog.Info("world ready",
		"run", s.runID,
		"tick", st.Tick,
		"citizens", st.Citizens,
		"cops", st.Cops,
		"radicalizers", st.Radicalizers,
	)
	return s, nil
}

func (s *session) startFresh() error {
	seed := s.cfg.ResolveSeed()
	sim, err := engine.NewSimulation(s.cfg.Options())
	if err != nil {
		return err
	}
	s.sim = sim

	stored := s.cfg
	stored.API.AdminKey = ""
	run, err := persistence.NewRun(seed, stored)
	if err != nil {
		return err
	}
	s.runID = run.ID
	if s.db != nil {
		if err := s.db.CreateRun(run); err != nil {
			return err
		}
	}
	slog.Info("new run", "run", run.ID, "seed", seed)
	return nil
}

// resumeLatest rebuilds the most recent run from the database, using the
// scenario it was started with rather than the current config file.
func (s *session) resumeLatest() error {
	if s.db == nil {
		return errors.New("resume needs storage.db_path")
	}
	run, err := s.db.LatestRun()
	if err != nil {
		return err
	}

	scenario := config.Default()
	if err := json.Unmarshal([]byte(run.Scenario), &scenario); err != nil {
		return fmt.Errorf("decode scenario of run %s: %w", run.ID, err)
	}
	scenario.Seed = run.Seed

	records, err := s.db.LoadAgents(run.ID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("run %s has no saved agents", run.ID)
	}
	tick, err := savedTick(s.db, run.ID)
	if err != nil {
		return err
	}

	sim, err := engine.RestoreSimulation(scenario.Options(), records, tick)
	if err != nil {
		return err
	}
	s.sim = sim
	s.runID = run.ID
	slog.Info("resumed run", "run", run.ID, "tick", tick, "agents", len(records))
	return nil
}

// savedTick is the tick a run's saved agents belong to. Agents saved without a
// tick cannot be placed in time, so a missing value is an error too.
func savedTick(db *persistence.DB, runID string) (uint64, error) {
	v, err := db.GetMeta(runID, "last_tick")
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("run %s has agents but no last_tick", runID)
	}
	if err != nil {
		return 0, fmt.Errorf("read last_tick of run %s: %w", runID, err)
	}
	tick, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("run %s: bad last_tick %q: %w", runID, v, err)
	}
	return tick, nil
}

func (s *session) restoreSnapshot(path string) error {
	snap, err := persistence.ReadSnapshot(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	sim, err := snap.Restore()
	if err != nil {
		return err
	}
	s.sim = sim
	s.runID = snap.Header.RunID

	if s.db != nil {
		if _, err := s.db.GetRun(s.runID); errors.Is(err, persistence.ErrNoRun) {
			run, err := persistence.NewRun(snap.Seed, s.snapshotScenario(snap))
			if err != nil {
				return err
			}
			run.ID = s.runID
			if err := s.db.CreateRun(run); err != nil {
				return err
			}
		}
	}
	slog.Info("restored snapshot", "path", path, "run", s.runID, "tick", snap.Header.Tick)
	return nil
}

// snapshotScenario is the config a resumed snapshot run is recorded under.
func (s *session) snapshotScenario(snap persistence.Snapshot) config.Config {
	c := s.cfg
	c.API.AdminKey = ""
	c.Seed = snap.Seed
	c.Movement = snap.Params.Movement
	c.Grid = config.GridConfig{Width: snap.Width, Height: snap.Height, Torus: snap.Torus}
	c.Enforcement = config.EnforcementConfig{
		ArrestProbConstant: snap.Params.ArrestProbConstant,
		MaxJailTerm:        snap.Params.MaxJailTerm,
	}
	c.Schedule.Order = string(snap.Order)
	return c
}

// newEngine wires the simulation into an engine loop.
func (s *session) newEngine() *engine.Engine {
	eng := engine.NewEngine()
	eng.Interval = s.cfg.Run.TickInterval
	eng.ReportEvery = s.cfg.Run.ReportEvery
	eng.SetTick(s.sim.Tick())
	eng.OnTick = func(uint64) error { return s.sim.Step() }
	eng.OnReport = func(uint64) {
		s.sim.Report()
		s.save()
	}
	return eng
}

func (s *session) save() {
	if s.saver == nil {
		return
	}
	if err := s.saver.Save(); err != nil {
		slog.Error("save failed", "error", err)
	}
}

func (s *session) writeSnapshot(path string) error {
	snap := persistence.Capture(s.runID, s.sim)
	if err := persistence.WriteSnapshot(path, snap); err != nil {
		return err
	}
	slog.Info("snapshot written", "path", path, "tick", snap.Header.Tick)
	return nil
}

func (s *session) Close() {
	if s.db != nil {
		s.db.Close()
	}
}
