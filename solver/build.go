package solver

import (
	"fmt"
	"math/rand"
	"strings"
)

// Builder selects how the initial partition is produced.
type Builder int

const (
	RoundRobin Builder = iota
	Greedy
)

func (b Builder) String() string {
	switch b {
	case RoundRobin:
		return "roundrobin"
	case Greedy:
		return "greedy"
	}
	return fmt.Sprintf("builder(%d)", int(b))
}

func ParseBuilder(s string) (Builder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "roundrobin", "round-robin", "random":
		return RoundRobin, nil
	case "greedy":
		return Greedy, nil
	}
	return 0, fmt.Errorf("%w: unknown builder %q", ErrInvalidParams, s)
}

func (b Builder) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *Builder) UnmarshalText(text []byte) error {
	v, err := ParseBuilder(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

func (b Builder) build(pr *Problem, rng *rand.Rand) *Partition {
	if b == Greedy {
		return GreedyPartition(pr)
	}
	return RoundRobinPartition(pr, rng)
}

// RoundRobinPartition shuffles the students and deals them onto buses in
// turn, so bus sizes differ by at most one.
func RoundRobinPartition(pr *Problem, rng *rand.Rand) *Partition {
	order := rng.Perm(len(pr.students))
	return deal(pr, order)
}

// GreedyPartition lists students with friendships first, in edge order, then
// the rest, and cuts that list into contiguous chunks of N/G students. The
// N%G leftover students are dealt round robin.
func GreedyPartition(pr *Problem) *Partition {
	n := len(pr.students)
	seen := make([]bool, n)
	order := make([]int, 0, n)
	for _, f := range pr.friendships {
		for _, s := range f {
			if !seen[s] {
				seen[s] = true
				order = append(order, s)
			}
		}
	}
	for s := range n {
		if !seen[s] {
			order = append(order, s)
		}
	}

	g := pr.numBuses
	chunk := n / g
	buses := make([][]int, g)
	busOf := make([]int, n)
	for b := range g {
		buses[b] = make([]int, 0, chunk+1)
		for _, s := range order[b*chunk : (b+1)*chunk] {
			buses[b] = append(buses[b], s)
			busOf[s] = b
		}
	}
	for r, s := range order[g*chunk:] {
		b := r % g
		buses[b] = append(buses[b], s)
		busOf[s] = b
	}
	return newPartition(buses, busOf)
}

func deal(pr *Problem, order []int) *Partition {
	g := pr.numBuses
	buses := make([][]int, g)
	busOf := make([]int, len(order))
	for i, s := range order {
		b := i % g
		buses[b] = append(buses[b], s)
		busOf[s] = b
	}
	return newPartition(buses, busOf)
}
