package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"buses/config"
	"buses/instance"
	"buses/metrics"
	"buses/solver"
)

const pairGML = `graph [
  node [ id 0 label "A" ]
  node [ id 1 label "B" ]
  node [ id 2 label "C" ]
  node [ id 3 label "D" ]
  edge [ source 0 target 1 ]
]
`

func setupInputs(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	write := func(cat, name, graph, params string) {
		dir := filepath.Join(root, "in", cat, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, instance.GraphFile), []byte(graph), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, instance.ParametersFile), []byte(params), 0o644))
	}
	write("small", "1", pairGML, "2\n2\n['A', 'C', 'D']\n")
	write("small", "2", pairGML, "0\n2\n")
	write("medium", "1", pairGML, "2\n2\n")
	return filepath.Join(root, "in"), filepath.Join(root, "out")
}

func newBatch(t *testing.T, outputs string) *batch {
	cfg := config.Default()
	cfg.Outputs = outputs
	cfg.Workers = 2
	params := solver.DefaultParams
	params.Objective = solver.Weighted
	params.Cooling = 0.9
	return &batch{cfg: cfg, params: params, logger: zaptest.NewLogger(t)}
}

func TestBatchRun(t *testing.T) {
	inputs, outputs := setupInputs(t)
	refs, err := instance.Discover(inputs, nil)
	require.NoError(t, err)
	require.Len(t, refs, 3)

	b := newBatch(t, outputs)
	rows, failed := b.run(context.Background(), refs)
	assert.Equal(t, 1, failed)
	require.Len(t, rows, 3)

	assert.Equal(t, "1", rows[0].Name)
	assert.True(t, rows[0].Written)
	assert.Equal(t, 1, rows[0].Friendships)
	assert.Equal(t, 0, rows[0].Violations)
	assert.NotEmpty(t, rows[1].Error)
	assert.False(t, rows[1].Written)
	assert.Equal(t, "medium", rows[2].Category)

	groups, err := instance.ReadFile(filepath.Join(outputs, "small", "1.out"))
	require.NoError(t, err)
	require.Len(t, groups, 2)
	var together bool
	for _, g := range groups {
		if strings.Join(g, ",") == "A,B" {
			together = true
		}
	}
	assert.True(t, together, "%v", groups)

	summary := filepath.Join(t.TempDir(), "summary.csv")
	require.NoError(t, writeSummary(summary, rows))
	f, err := os.Open(summary)
	require.NoError(t, err)
	defer f.Close()
	var back []summaryRow
	require.NoError(t, gocsv.UnmarshalFile(f, &back))
	assert.Len(t, back, 3)
	assert.Equal(t, rows[0].Friendships, back[0].Friendships)
}

func TestBatchKeepBetter(t *testing.T) {
	inputs, outputs := setupInputs(t)
	ref := instance.Ref{Category: "medium", Name: "1", Dir: filepath.Join(inputs, "medium", "1")}
	out := instance.OutputPath(outputs, ref)
	require.NoError(t, instance.WriteFile(out, [][]string{{"B", "A"}, {"D", "C"}}))

	b := newBatch(t, outputs)
	b.cfg.KeepBetter = true
	row, err := b.solveOne(ref, 3)
	require.NoError(t, err)
	assert.False(t, row.Written)

	groups, err := instance.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"B", "A"}, {"D", "C"}}, groups)

	require.NoError(t, instance.WriteFile(out, [][]string{{"Z"}}))
	row, err = b.solveOne(ref, 3)
	require.NoError(t, err)
	assert.True(t, row.Written)
}

func TestBatchStopsSchedulingOnCancel(t *testing.T) {
	inputs, outputs := setupInputs(t)
	refs, err := instance.Discover(inputs, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rows, failed := newBatch(t, outputs).run(ctx, refs)
	assert.Equal(t, len(refs), failed)
	for _, r := range rows {
		assert.False(t, r.Written)
	}
}

func TestBatchMetricsFile(t *testing.T) {
	inputs, outputs := setupInputs(t)
	refs, err := instance.Discover(inputs, []string{"medium"})
	require.NoError(t, err)

	metrics.Register()
	_, failed := newBatch(t, outputs).run(context.Background(), refs)
	require.Zero(t, failed)

	path := filepath.Join(t.TempDir(), "batch.prom")
	require.NoError(t, metrics.WriteFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `bus_solve_runs_total{objective="weighted",outcome="ok"}`)
	assert.Contains(t, string(data), "bus_solve_duration_seconds_count")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"small", "medium"}, splitList("small, medium,"))
	assert.Equal(t, []string{"large"}, splitList(" large "))
	assert.Nil(t, splitList(" , "))
}
