package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scigolib/mdf/internal/mdftest"
)

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.mdf")
	require.NoError(t, os.WriteFile(path, mdftest.SimpleV4(3), 0644))
	return path
}

func TestRunText(t *testing.T) {
	path := writeSample(t)
	require.Equal(t, 0, run([]string{"--convert", path}))
}

func TestRunJSON(t *testing.T) {
	path := writeSample(t)
	require.Equal(t, 0, run([]string{"--json", "--samples", "2", path}))
}

func TestRunChannelFilter(t *testing.T) {
	path := writeSample(t)
	require.Equal(t, 0, run([]string{"--channels", "speed", path}))
}

func TestRunConfigFile(t *testing.T) {
	path := writeSample(t)
	cfg := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("convert: true\nsamples: 1\n"), 0644))
	require.Equal(t, 0, run([]string{"--config", cfg, path}))
}

func TestRunOpenFailure(t *testing.T) {
	require.Equal(t, 1, run([]string{filepath.Join(t.TempDir(), "missing.mdf")}))
}
