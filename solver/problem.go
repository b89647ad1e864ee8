package solver

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrInvalidBusCount = errors.New("bus count must be positive")
	ErrInvalidBusSize  = errors.New("bus size must be positive")
	ErrUnknownStudent  = errors.New("unknown student")
	ErrInvalidParams   = errors.New("invalid solver parameters")
	ErrBadPartition    = errors.New("partition does not cover every student exactly once")
)

// Problem is one immutable bus assignment instance. Students are indexed in
// the order they were given.
type Problem struct {
	students    []string
	index       map[string]int
	friendships [][2]int
	rowdy       [][]int
	numBuses    int
	busSize     int
}

func NewProblem(students []string, friendships [][2]string, rowdy [][]string, numBuses, busSize int) (*Problem, error) {
	if numBuses <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBusCount, numBuses)
	}
	if busSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBusSize, busSize)
	}

	pr := &Problem{
		index:    map[string]int{},
		numBuses: numBuses,
		busSize:  busSize,
	}
	for _, s := range students {
		if _, ok := pr.index[s]; ok {
			continue
		}
		pr.index[s] = len(pr.students)
		pr.students = append(pr.students, s)
	}

	seen := map[[2]int]bool{}
	for _, f := range friendships {
		a, ok := pr.index[f[0]]
		if !ok {
			return nil, fmt.Errorf("%w: friendship endpoint %q", ErrUnknownStudent, f[0])
		}
		b, ok := pr.index[f[1]]
		if !ok {
			return nil, fmt.Errorf("%w: friendship endpoint %q", ErrUnknownStudent, f[1])
		}
		if a == b {
			continue
		}
		p := [2]int{a, b}
		if p[0] > p[1] {
			p[0], p[1] = p[1], p[0]
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		pr.friendships = append(pr.friendships, [2]int{a, b})
	}

	for gi, group := range rowdy {
		var members []int
		for _, s := range group {
			i, ok := pr.index[s]
			if !ok {
				return nil, fmt.Errorf("%w: rowdy group %d member %q", ErrUnknownStudent, gi, s)
			}
			if !slices.Contains(members, i) {
				members = append(members, i)
			}
		}
		if len(members) == 0 {
			continue
		}
		pr.rowdy = append(pr.rowdy, members)
	}

	return pr, nil
}

func (pr *Problem) Students() []string { return slices.Clone(pr.students) }
func (pr *Problem) NumStudents() int    { return len(pr.students) }
func (pr *Problem) NumBuses() int       { return pr.numBuses }
func (pr *Problem) BusSize() int        { return pr.busSize }
func (pr *Problem) NumFriendships() int { return len(pr.friendships) }
func (pr *Problem) NumRowdyGroups() int { return len(pr.rowdy) }

// Index returns the solver index of a student label.
func (pr *Problem) Index(name string) (int, bool) {
	i, ok := pr.index[name]
	return i, ok
}

// Groups maps a partition back to student labels, one slice per bus.
func (pr *Problem) Groups(p *Partition) [][]string {
	out := make([][]string, len(p.Buses))
	for b, bus := range p.Buses {
		out[b] = make([]string, len(bus))
		for i, s := range bus {
			out[b][i] = pr.students[s]
		}
	}
	return out
}

// PartitionOf converts labelled groups (for example a previously written
// output file) into a partition over this problem's students.
func (pr *Problem) PartitionOf(groups [][]string) (*Partition, error) {
	buses := make([][]int, len(groups))
	for b, g := range groups {
		for _, name := range g {
			i, ok := pr.index[name]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownStudent, name)
			}
			buses[b] = append(buses[b], i)
		}
	}
	return NewPartition(len(pr.students), buses)
}
