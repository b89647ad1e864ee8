// Package instance reads bus assignment inputs from disk and writes
// solutions back. An input directory holds graph.gml and parameters.txt;
// inputs are grouped by size category.
package instance

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"buses/solver"
)

var (
	ErrMalformedParameters = errors.New("malformed parameters")
	ErrMalformedOutput     = errors.New("malformed output")
)

const (
	GraphFile      = "graph.gml"
	ParametersFile = "parameters.txt"
	OutputExt      = ".out"
)

var DefaultCategories = []string{"small", "medium", "large"}

type Parameters struct {
	NumBuses    int
	BusSize     int
	RowdyGroups [][]string
}

type Instance struct {
	Category   string
	Name       string
	Graph      *Graph
	Parameters Parameters
}

// Ref points at one input directory.
type Ref struct {
	Category string
	Name     string
	Dir      string
}

func (r Ref) String() string { return r.Category + "/" + r.Name }

// ReadParameters parses parameters.txt: the bus count, the bus size, then
// one rowdy group per line written as a list literal.
func ReadParameters(r io.Reader) (Parameters, error) {
	var p Parameters
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		switch line {
		case 1, 2:
			v, err := strconv.Atoi(text)
			if err != nil {
				return p, fmt.Errorf("%w: line %d: %v", ErrMalformedParameters, line, err)
			}
			if line == 1 {
				p.NumBuses = v
			} else {
				p.BusSize = v
			}
		default:
			if text == "" {
				continue
			}
			group, err := parseList(text)
			if err != nil {
				return p, fmt.Errorf("%w: line %d: %v", ErrMalformedParameters, line, err)
			}
			p.RowdyGroups = append(p.RowdyGroups, group)
		}
	}
	if err := sc.Err(); err != nil {
		return p, err
	}
	if line < 2 {
		return p, fmt.Errorf("%w: want bus count and bus size, got %d lines", ErrMalformedParameters, line)
	}
	return p, nil
}

// parseList reads a one-line list literal such as ['a', 'b', "c"].
func parseList(text string) ([]string, error) {
	if !strings.HasPrefix(text, "[") || !strings.HasSuffix(text, "]") {
		return nil, fmt.Errorf("not a list: %q", text)
	}
	body := strings.TrimSpace(text[1 : len(text)-1])
	if body == "" {
		return []string{}, nil
	}
	var out []string
	for _, part := range strings.Split(body, ",") {
		item := strings.TrimSpace(part)
		if len(item) >= 2 && (item[0] == '\'' || item[0] == '"') && item[len(item)-1] == item[0] {
			item = item[1 : len(item)-1]
		}
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

// Load reads graph.gml and parameters.txt from dir. The directory name is
// the instance name and its parent's name is the category.
func Load(dir string) (*Instance, error) {
	gf, err := os.Open(filepath.Join(dir, GraphFile))
	if err != nil {
		return nil, err
	}
	defer gf.Close()
	g, err := ReadGraph(gf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Join(dir, GraphFile), err)
	}

	pf, err := os.Open(filepath.Join(dir, ParametersFile))
	if err != nil {
		return nil, err
	}
	defer pf.Close()
	p, err := ReadParameters(pf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Join(dir, ParametersFile), err)
	}

	clean := filepath.Clean(dir)
	return &Instance{
		Category:   filepath.Base(filepath.Dir(clean)),
		Name:       filepath.Base(clean),
		Graph:      g,
		Parameters: p,
	}, nil
}

// Problem builds the solver input. Bus count and size are validated here.
func (in *Instance) Problem() (*solver.Problem, error) {
	return solver.NewProblem(in.Graph.Nodes, in.Graph.Edges, in.Parameters.RowdyGroups, in.Parameters.NumBuses, in.Parameters.BusSize)
}

// Discover lists inputs/<category>/<name> directories in sorted order.
// Missing categories are skipped.
func Discover(inputs string, categories []string) ([]Ref, error) {
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	var refs []Ref
	for _, cat := range categories {
		catDir := filepath.Join(inputs, cat)
		entries, err := os.ReadDir(catDir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			refs = append(refs, Ref{Category: cat, Name: e.Name(), Dir: filepath.Join(catDir, e.Name())})
		}
	}
	slices.SortStableFunc(refs, func(a, b Ref) int {
		if a.Category != b.Category {
			return slices.Index(categories, a.Category) - slices.Index(categories, b.Category)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return refs, nil
}

func OutputPath(outputs string, ref Ref) string {
	return filepath.Join(outputs, ref.Category, ref.Name+OutputExt)
}

// WriteAssignment writes one bus per line as a list literal.
func WriteAssignment(w io.Writer, groups [][]string) error {
	bw := bufio.NewWriter(w)
	for _, g := range groups {
		quoted := make([]string, len(g))
		for i, s := range g {
			quoted[i] = "'" + s + "'"
		}
		if _, err := fmt.Fprintf(bw, "[%s]\n", strings.Join(quoted, ", ")); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func ReadAssignment(r io.Reader) ([][]string, error) {
	var groups [][]string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		g, err := parseList(text)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedOutput, line, err)
		}
		groups = append(groups, g)
	}
	return groups, sc.Err()
}

// WriteFile writes groups to path through a temporary file and a rename,
// creating parent directories as needed.
func WriteFile(path string, groups [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if err := WriteAssignment(tmp, groups); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func ReadFile(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadAssignment(f)
}
