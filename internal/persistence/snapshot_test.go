package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/unrest/internal/engine"
)

func TestSnapshotRoundTrip(t *testing.T) {
	sim, err := engine.NewSimulation(testOptions(21))
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		require.NoError(t, sim.Step())
	}

	snap := Capture("run-1", sim)
	path := SnapshotPath(filepath.Join(t.TempDir(), "snaps"), "run-1", sim.Tick())
	require.NoError(t, WriteSnapshot(path, snap))

	h, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, Header{Version: snapshotVersion, RunID: "run-1", Tick: 8}, h)

	got, err := ReadSnapshot(path)
	require.NoError(t, err)
	if diff := cmp.Diff(snap, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	restored, err := got.Restore()
	require.NoError(t, err)
	assert.Equal(t, sim.Tick(), restored.Tick())
	assert.Equal(t, sim.Records(), restored.Records())
	require.NoError(t, restored.Step())
}

func TestSnapshotPath(t *testing.T) {
	assert.Equal(t, filepath.Join("d", "abc-00000042.json.zst"), SnapshotPath("d", "abc", 42))
}

func TestReadSnapshotRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zst")
	require.NoError(t, os.WriteFile(path, []byte("not zstd"), 0o644))
	_, err := ReadSnapshot(path)
	assert.Error(t, err)
}
