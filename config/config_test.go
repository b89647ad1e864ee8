package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buses/solver"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solve.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	p, err := cfg.Solver.Params()
	require.NoError(t, err)
	assert.Equal(t, solver.DefaultParams.Cooling, p.Cooling)
	assert.Equal(t, solver.Normalized, p.Objective)
	assert.Nil(t, p.Refine)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
inputs: in
outputs: out
categories: [large]
workers: 8
seed: 99
keep_better: true
metrics_file: out/metrics.prom
solver:
  cooling: 0.988
  trials_per_temp: 500
  time_budget: 30m
  objective: violations
  refine: weighted
  builder: greedy
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "in", cfg.Inputs)
	assert.Equal(t, []string{"large"}, cfg.Categories)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, int64(99), cfg.Seed)
	assert.True(t, cfg.KeepBetter)
	assert.Equal(t, "out/metrics.prom", cfg.MetricsFile)

	p, err := cfg.Solver.Params()
	require.NoError(t, err)
	assert.Equal(t, 0.988, p.Cooling)
	assert.Equal(t, 500, p.TrialsPerTemp)
	assert.Equal(t, 30*time.Minute, p.TimeBudget)
	assert.Equal(t, solver.Violations, p.Objective)
	require.NotNil(t, p.Refine)
	assert.Equal(t, solver.Weighted, *p.Refine)
	assert.Equal(t, solver.Greedy, p.Builder)
	assert.Equal(t, solver.DefaultParams.MinTemp, p.MinTemp)
	assert.Equal(t, solver.DefaultFriendshipWeight, p.FriendshipWeight)
}

func TestLoadZeroFriendshipWeight(t *testing.T) {
	cfg, err := Load(writeConfig(t, "solver:\n  objective: weighted\n  friendship_weight: 0\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Solver.FriendshipWeight)

	p, err := cfg.Solver.Params()
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.FriendshipWeight)
	assert.Equal(t, solver.Weighted, p.Objective)
}

func TestLoadRejectsBadValues(t *testing.T) {
	for name, body := range map[string]string{
		"objective": "solver:\n  objective: joy\n",
		"cooling":   "solver:\n  cooling: 1.5\n",
		"workers":   "workers: 0\n",
		"syntax":    "inputs: [\n",
	} {
		_, err := Load(writeConfig(t, body))
		assert.ErrorIs(t, err, ErrInvalidConfig, name)
	}

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
