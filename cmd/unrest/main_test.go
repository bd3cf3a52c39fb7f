package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/unrest/internal/agents"
	"github.com/talgya/unrest/internal/config"
	"github.com/talgya/unrest/internal/persistence"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestVersion(t *testing.T) {
	assert.Equal(t, "unrest dev\n", execute(t, "version"))
}

func TestSetupLogging(t *testing.T) {
	require.NoError(t, setupLogging("debug", "json"))
	require.NoError(t, setupLogging("WARN", "text"))
	assert.Error(t, setupLogging("loud", "text"))
	assert.Error(t, setupLogging("info", "xml"))
}

func TestRunResumeInspect(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "scenario.yaml")
	snapPath := filepath.Join(dir, "final.json.zst")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
seed: 5
grid:
  width: 15
  height: 15
run:
  report_every: 2
storage:
  db_path: %s
`, filepath.Join(dir, "data", "unrest.db"))), 0o644))

	execute(t, "--log-level", "error", "run", "--config", cfgPath, "--ticks", "6", "--snapshot", snapPath)

	snap, err := persistence.ReadSnapshot(snapPath)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), snap.Header.Tick)
	assert.Equal(t, int64(5), snap.Seed)

	execute(t, "--log-level", "error", "run", "--config", cfgPath, "--ticks", "4", "--resume", "--snapshot", snapPath)
	resumed, err := persistence.ReadSnapshot(snapPath)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), resumed.Header.Tick)
	assert.Equal(t, snap.Header.RunID, resumed.Header.RunID)
	assert.Equal(t, len(snap.Agents), len(resumed.Agents))

	out := execute(t, "inspect", snapPath, "--json")
	var sum snapshotSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, uint64(10), sum.Tick)
	assert.Equal(t, "15x15 torus", sum.Grid)
	assert.Equal(t, sum.Citizens, sum.Quiescent+sum.Active)

	t.Cleanup(func() { inspectHeader, inspectJSON = false, false })
	out = execute(t, "inspect", snapPath, "--header", "--json=false")
	assert.Equal(t, fmt.Sprintf("run %s tick 10 (snapshot v1)\n", resumed.Header.RunID), out)
	out = execute(t, "inspect", snapPath, "--header", "--json")
	var h persistence.Header
	require.NoError(t, json.Unmarshal([]byte(out), &h))
	assert.Equal(t, resumed.Header, h)
}

func TestResumeRejectsMissingOrCorruptTick(t *testing.T) {
	cfg := config.Default()
	cfg.Seed = 3
	cfg.Grid.Width, cfg.Grid.Height = 10, 10
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "unrest.db")

	s, err := openSession(cfg, false, "")
	require.NoError(t, err)
	runID := s.runID
	require.NoError(t, s.db.SaveAgents(runID, s.sim.Records()))

	_, err = savedTick(s.db, runID)
	assert.ErrorContains(t, err, "no last_tick")

	require.NoError(t, s.db.SaveMeta(runID, "last_tick", "seven"))
	s.Close()

	_, err = openSession(cfg, true, "")
	assert.ErrorContains(t, err, "bad last_tick")
}

func TestSummarizeText(t *testing.T) {
	snap := persistence.Snapshot{
		Header: persistence.Header{RunID: "r1", Tick: 3},
		Width:  5,
		Height: 4,
		Agents: []agents.Record{
			{ID: 1, Breed: agents.BreedCop},
			{ID: 2, Breed: agents.BreedRadicalizer},
			{ID: 3, Breed: agents.BreedCitizen, Grievance: 0.2, Condition: agents.Active, JailSentence: 2},
			{ID: 4, Breed: agents.BreedCitizen, Grievance: 0.4, Radicalized: true},
		},
	}
	sum := summarize(snap)
	assert.Equal(t, 2, sum.Citizens)
	assert.Equal(t, 1, sum.Active)
	assert.Equal(t, 1, sum.Jailed)
	assert.Equal(t, 1, sum.Radicalized)
	assert.InDelta(t, 0.3, sum.MeanGrievance, 1e-12)

	var buf bytes.Buffer
	require.NoError(t, sum.print(&buf))
	assert.True(t, strings.Contains(buf.String(), "5x4 bounded"))
}
