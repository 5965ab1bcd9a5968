package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/soccer-diffusion/internal/schema"
	"github.com/banshee-data/soccer-diffusion/internal/store"
	"github.com/banshee-data/soccer-diffusion/internal/testutil"
)

func writeConfig(t *testing.T, extra ...string) (configPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "dataset.db")
	configPath = filepath.Join(dir, "dataset.yaml")
	content := "dsn: " + dbPath + `
sampling_rate_hz: 100
joint_command_history: 4
joint_state_history: 4
imu_history: 2
image_history: 2
future_length: 10
stride: 10
image_width: 4
image_height: 2
num_workers: 2
batch_size: 4
shuffle_seed: 7
`
	for _, line := range extra {
		content += line + "\n"
	}
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	return configPath, dbPath
}

// seedDataset writes one 120-tick recording, 11 samples at future 10 and
// stride 10.
func seedDataset(t *testing.T, dbPath string) {
	t.Helper()
	s, err := store.Open(store.SQLite, dbPath, store.Options{})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.MigrateUp())
	testutil.Seed(t, s, testutil.Fixture{Ticks: 120, ImageStamps: []float64{0.05, 0.5}})
}

func run(t *testing.T, cmd command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := cmd(context.Background(), args, &out)
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"migrate", "import", "index", "sample", "report", "plot", "serve"} {
		assert.Contains(t, commands, name)
	}
}

func TestMigrate(t *testing.T) {
	cfg, _ := writeConfig(t)

	out, err := run(t, runMigrate, "--config", cfg, "up")
	require.NoError(t, err)
	assert.Contains(t, out, "dirty=false")
	assert.NotContains(t, out, "schema version 0 ")

	out, err = run(t, runMigrate, "--config", cfg, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version")

	_, err = run(t, runMigrate, "--config", cfg, "sideways")
	assert.ErrorContains(t, err, "unknown migrate action")
	_, err = run(t, runMigrate, "--config", cfg, "force")
	assert.Error(t, err)
	_, err = run(t, runMigrate, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func writeRecording(t *testing.T, dir string) string {
	t.Helper()
	names := schema.JointNames[:]
	positions := make([]float64, len(names))
	var buf bytes.Buffer
	for k := 0; k < 30; k++ {
		for _, kind := range []string{"joint_command", "joint_state"} {
			line, err := json.Marshal(map[string]any{
				"stamp":    100 + float64(k)/100,
				"kind":     kind,
				"name":     names,
				"position": positions,
			})
			require.NoError(t, err)
			buf.Write(line)
			buf.WriteByte('\n')
		}
	}
	path := filepath.Join(dir, "match_simulation.jsonl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestImport(t *testing.T) {
	cfg, dbPath := writeConfig(t)
	rec := writeRecording(t, t.TempDir())

	out, err := run(t, runImport, "--config", cfg, "--team", "Hamburg Bit-Bots", "--team-color", "red",
		"--robot-type", "Wolfgang-OP", rec)
	require.NoError(t, err)
	assert.Contains(t, out, "match_simulation.jsonl: recording 1")

	s, err := store.Open(store.SQLite, dbPath, store.Options{ReadOnly: true})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Recording(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, got.Simulated)
	require.NotNil(t, got.TeamColor)
	assert.Equal(t, schema.TeamColorRed, *got.TeamColor)
}

func TestImport_Errors(t *testing.T) {
	cfg, _ := writeConfig(t)
	rec := writeRecording(t, t.TempDir())

	_, err := run(t, runImport, "--config", cfg, "--robot-type", "NAO6", rec)
	assert.ErrorContains(t, err, "required")
	_, err = run(t, runImport, "--config", cfg, "--team", "t", "--robot-type", "NAO6")
	assert.ErrorContains(t, err, "no recordings")
	_, err = run(t, runImport, "--config", cfg, "--team", "t", "--robot-type", "NAO6", "--team-color", "teal", rec)
	assert.ErrorContains(t, err, "team colour")
	_, err = run(t, runImport, "--config", cfg, "--team", "t", "--robot-type", "NAO6", filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.Error(t, err)
}

func TestImport_InvalidatesCachedIndex(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg, dbPath := writeConfig(t, "redis_addr: "+mr.Addr())
	seedDataset(t, dbPath)

	out, err := run(t, runIndex, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "11 samples")
	require.Len(t, mr.Keys(), 1)

	_, err = run(t, runImport, "--config", cfg, "--team", "t", "--robot-type", "NAO6", writeRecording(t, t.TempDir()))
	require.NoError(t, err)
	assert.Empty(t, mr.Keys())

	out, err = run(t, runIndex, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "recording 2: samples [11,")
	assert.NotContains(t, out, "\n11 samples")
}

func TestImport_StaleCacheReported(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg, _ := writeConfig(t, "redis_addr: "+mr.Addr())
	mr.Close()

	_, err := run(t, runImport, "--config", cfg, "--team", "t", "--robot-type", "NAO6", writeRecording(t, t.TempDir()))
	assert.ErrorContains(t, err, "index --invalidate")
}

func TestIndex(t *testing.T) {
	cfg, dbPath := writeConfig(t)
	seedDataset(t, dbPath)

	out, err := run(t, runIndex, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "recording 1: samples [0, 11) (11)")
	assert.Contains(t, out, "11 samples (future=10 stride=10)")

	_, err = run(t, runIndex, "--config", cfg, "--invalidate")
	assert.ErrorContains(t, err, "redis_addr")
}

func TestSample(t *testing.T) {
	cfg, dbPath := writeConfig(t)
	seedDataset(t, dbPath)

	out, err := run(t, runSample, "--config", cfg, "--index", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "sample 3: recording 1 position 30")
	assert.Contains(t, out, "joint_command_history")
	assert.Contains(t, out, "[1 10 20]")

	_, err = run(t, runSample, "--config", cfg, "--index", "11")
	assert.Error(t, err)
}

func TestSample_Batches(t *testing.T) {
	cfg, dbPath := writeConfig(t)
	seedDataset(t, dbPath)

	out, err := run(t, runSample, "--config", cfg, "--batches", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "batch 1: 4 samples")
	assert.Contains(t, out, "batch 2: 4 samples")
	assert.NotContains(t, out, "batch 3")
	assert.Contains(t, out, "2 batches in")

	out, err = run(t, runSample, "--config", cfg, "--batches", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "batch 3: 3 samples")
	assert.Contains(t, out, "3 batches in")
}

func TestReportAndPlot(t *testing.T) {
	cfg, dbPath := writeConfig(t)
	seedDataset(t, dbPath)
	dir := t.TempDir()

	xlsx := filepath.Join(dir, "report.xlsx")
	out, err := run(t, runReport, "--config", cfg, "--out", xlsx)
	require.NoError(t, err)
	assert.Contains(t, out, "1 recordings (0 simulated), 11 samples")
	info, err := os.Stat(xlsx)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	png := filepath.Join(dir, "sample.png")
	_, err = run(t, runPlot, "--config", cfg, "--index", "2", "--joint", "LKnee", "--out", png)
	require.NoError(t, err)
	data, err := os.ReadFile(png)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	_, err = run(t, runPlot, "--config", cfg, "--joint", "Tail", "--out", png)
	assert.ErrorContains(t, err, "unknown joint")
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg, dbPath := writeConfig(t)
	seedDataset(t, dbPath)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var out bytes.Buffer
	go func() { done <- runServe(ctx, []string{"--config", cfg, "--listen", "127.0.0.1:0"}, &out) }()
	cancel()
	require.NoError(t, <-done)
}
