package solver

import (
	"fmt"
	"math"
	"strings"
)

// Objective selects the cost function that drives annealing. Every
// objective is lower-is-better.
type Objective int

const (
	// Violations counts rowdy groups riding together.
	Violations Objective = iota
	// Friendships is the negated number of preserved friendships.
	Friendships
	// Weighted is violations - k*friendships.
	Weighted
	// Normalized scales both terms to [0,~2] so it behaves the same on
	// small and large instances.
	Normalized
)

const DefaultFriendshipWeight = 5

// smoothing keeps the normalized terms finite on instances without edges
// or rowdy groups.
const smoothing = 0.1

var objectiveNames = map[Objective]string{
	Violations:  "violations",
	Friendships: "friendships",
	Weighted:    "weighted",
	Normalized:  "normalized",
}

func (o Objective) String() string {
	if s, ok := objectiveNames[o]; ok {
		return s
	}
	return fmt.Sprintf("objective(%d)", int(o))
}

func ParseObjective(s string) (Objective, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for o, name := range objectiveNames {
		if name == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown objective %q", ErrInvalidParams, s)
}

func (o Objective) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Objective) UnmarshalText(b []byte) error {
	v, err := ParseObjective(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// Violations counts rowdy groups whose members all share one bus.
func (pr *Problem) Violations(p *Partition) int {
	n := 0
	for _, group := range pr.rowdy {
		bus := p.busOf[group[0]]
		together := true
		for _, s := range group[1:] {
			if p.busOf[s] != bus {
				together = false
				break
			}
		}
		if together {
			n++
		}
	}
	return n
}

// Friendships counts friendship edges with both ends on the same bus.
func (pr *Problem) Friendships(p *Partition) int {
	n := 0
	for _, f := range pr.friendships {
		if p.busOf[f[0]] == p.busOf[f[1]] {
			n++
		}
	}
	return n
}

// OverCapacity is the number of students above the bus size, summed over
// all buses.
func (pr *Problem) OverCapacity(p *Partition) int {
	n := 0
	for _, bus := range p.Buses {
		if len(bus) > pr.busSize {
			n += len(bus) - pr.busSize
		}
	}
	return n
}

// Score evaluates p under objective o. weight is only used by Weighted.
// An unknown objective scores NaN.
func (pr *Problem) Score(o Objective, weight float64, p *Partition) float64 {
	switch o {
	case Violations:
		return float64(pr.Violations(p))
	case Friendships:
		return -float64(pr.Friendships(p))
	case Weighted:
		return float64(pr.Violations(p)) - weight*float64(pr.Friendships(p))
	case Normalized:
		edges := float64(len(pr.friendships))
		broken := edges - float64(pr.Friendships(p))
		return 2*broken/(smoothing+edges) + float64(pr.Violations(p))/(smoothing+float64(len(pr.rowdy)))
	default:
		return math.NaN()
	}
}
