package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/unrest/internal/agents"
	"github.com/talgya/unrest/internal/engine"
)

const snapshotVersion = 1

// Header is the first line of a snapshot file, readable without decoding the body.
type Header struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	Tick    uint64 `json:"tick"`
}

// Snapshot is a complete, self-contained world state.
type Snapshot struct {
	Header Header `json:"header"`

	Seed   int64         `json:"seed"`
	Width  int           `json:"width"`
	Height int           `json:"height"`
	Torus  bool          `json:"torus"`
	Order  engine.Order  `json:"order"`
	Params agents.Params `json:"params"`

	Agents []agents.Record `json:"agents"`
}

// Capture takes a snapshot of a simulation.
func Capture(runID string, sim *engine.Simulation) Snapshot {
	opts := sim.Options()
	return Snapshot{
		Header: Header{Version: snapshotVersion, RunID: runID, Tick: sim.Tick()},
		Seed:   opts.Seed,
		Width:  opts.Width,
		Height: opts.Height,
		Torus:  opts.Torus,
		Order:  opts.Order,
		Params: opts.Params,
		Agents: sim.Records(),
	}
}

// Restore rebuilds a simulation from the snapshot. The scenario densities are
// irrelevant once agents exist, so only the grid and params are restored.
func (s Snapshot) Restore() (*engine.Simulation, error) {
	opts := engine.Options{
		Width:  s.Width,
		Height: s.Height,
		Torus:  s.Torus,
		Seed:   s.Seed,
		Order:  s.Order,
		Params: s.Params,
	}
	return engine.RestoreSimulation(opts, s.Agents, s.Header.Tick)
}

// SnapshotPath returns the conventional file name for a run's snapshot at a tick.
func SnapshotPath(dir, runID string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%08d.json.zst", runID, tick))
}

// WriteSnapshot writes a zstd-compressed snapshot: a JSON header line then the
// JSON body.
func WriteSnapshot(path string, snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 256*1024)
	hb, err := json.Marshal(snap.Header)
	if err != nil {
		enc.Close()
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		enc.Close()
		return err
	}
	if err := json.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("json encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}

// ReadSnapshot reads a snapshot written by WriteSnapshot.
func ReadSnapshot(path string) (Snapshot, error) {
	var snap Snapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != snapshotVersion {
		return snap, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}

	if err := json.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("json decode: %w", err)
	}
	return snap, nil
}

// ReadHeader reads only the header line of a snapshot.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
