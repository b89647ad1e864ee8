package instance

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buses/solver"
)

const sampleGML = `graph [
  directed 0
  # written by networkx
  node [
    id 0
    label "0"
  ]
  node [
    id 1
    label "1"
  ]
  node [
    id 2
    label "Ann &amp; Bo"
    extra [ nested 1 ]
  ]
  node [
    id 3
  ]
  edge [
    source 0
    target 1
    weight 0.5
  ]
  edge [
    source 2
    target 3
  ]
]
`

func TestReadGraph(t *testing.T) {
	g, err := ReadGraph(strings.NewReader(sampleGML))
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "Ann & Bo", "3"}, g.Nodes)
	assert.Equal(t, [][2]string{{"0", "1"}, {"Ann & Bo", "3"}}, g.Edges)
}

func TestReadGraphErrors(t *testing.T) {
	cases := map[string]string{
		"no graph":     `node [ id 0 ]`,
		"unbalanced":   `graph [ node [ id 0 ]`,
		"unknown node": `graph [ node [ id 0 ] edge [ source 0 target 9 ] ]`,
		"no id":        `graph [ node [ label "x" ] ]`,
		"duplicate id": `graph [ node [ id 0 ] node [ id 0 ] ]`,
		"bad string":   `graph [ node [ id 0 label "x ] ]`,
		"bare value":   `graph [ 12 ]`,
	}
	for name, in := range cases {
		_, err := ReadGraph(strings.NewReader(in))
		assert.ErrorIs(t, err, ErrMalformedGraph, name)
	}
}

func TestReadParameters(t *testing.T) {
	p, err := ReadParameters(strings.NewReader("3\n10\n['1', '2', '5']\n\n[\"7\", \"8\"]\n[]\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, p.NumBuses)
	assert.Equal(t, 10, p.BusSize)
	assert.Equal(t, [][]string{{"1", "2", "5"}, {"7", "8"}, {}}, p.RowdyGroups)

	_, err = ReadParameters(strings.NewReader("three\n10\n"))
	assert.ErrorIs(t, err, ErrMalformedParameters)
	_, err = ReadParameters(strings.NewReader("3\n"))
	assert.ErrorIs(t, err, ErrMalformedParameters)
	_, err = ReadParameters(strings.NewReader("3\n4\n'a', 'b'\n"))
	assert.ErrorIs(t, err, ErrMalformedParameters)
}

func TestAssignmentRoundTrip(t *testing.T) {
	var sb strings.Builder
	groups := [][]string{{"1", "4"}, {"2"}, {}}
	require.NoError(t, WriteAssignment(&sb, groups))
	assert.Equal(t, "['1', '4']\n['2']\n[]\n", sb.String())

	got, err := ReadAssignment(strings.NewReader(sb.String()))
	require.NoError(t, err)
	assert.Equal(t, groups, got)

	_, err = ReadAssignment(strings.NewReader("['1'\n"))
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func writeInstance(t *testing.T, root, category, name, graph, params string) string {
	t.Helper()
	dir := filepath.Join(root, category, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, GraphFile), []byte(graph), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ParametersFile), []byte(params), 0o644))
	return dir
}

func TestLoadAndProblem(t *testing.T) {
	root := t.TempDir()
	dir := writeInstance(t, root, "small", "7", sampleGML, "2\n2\n['0', '1']\n")

	in, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "small", in.Category)
	assert.Equal(t, "7", in.Name)

	pr, err := in.Problem()
	require.NoError(t, err)
	assert.Equal(t, 4, pr.NumStudents())
	assert.Equal(t, 2, pr.NumFriendships())
	assert.Equal(t, 1, pr.NumRowdyGroups())

	bad := writeInstance(t, root, "small", "8", sampleGML, "0\n2\n")
	in, err = Load(bad)
	require.NoError(t, err)
	_, err = in.Problem()
	assert.ErrorIs(t, err, solver.ErrInvalidBusCount)

	_, err = Load(filepath.Join(root, "small", "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeInstance(t, root, "large", "1", sampleGML, "1\n4\n")
	writeInstance(t, root, "small", "b", sampleGML, "1\n4\n")
	writeInstance(t, root, "small", "a", sampleGML, "1\n4\n")
	require.NoError(t, os.WriteFile(filepath.Join(root, "small", "notes.txt"), nil, 0o644))

	refs, err := Discover(root, nil)
	require.NoError(t, err)
	var names []string
	for _, r := range refs {
		names = append(names, r.String())
	}
	assert.Equal(t, []string{"small/a", "small/b", "large/1"}, names)
	assert.Equal(t, filepath.Join(root, "out", "small", "a.out"), OutputPath(filepath.Join(root, "out"), refs[0]))
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medium", "3.out")
	require.NoError(t, WriteFile(path, [][]string{{"x", "y"}}))
	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"x", "y"}}, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
