package solver

import (
	"math"
	"math/rand"
)

// Move swaps the students at two seats on two different buses. Applying the
// same move twice restores the partition.
type Move struct {
	FromBus, FromIndex int
	ToBus, ToIndex     int
}

func (m Move) Apply(p *Partition) {
	p.Swap(m.FromBus, m.FromIndex, m.ToBus, m.ToIndex)
}

// Propose picks two distinct non-empty buses and one seat in each, and swaps
// them in place. It reports false without touching p when fewer than two
// buses have anyone on them.
func Propose(p *Partition, rng *rand.Rand) (Move, bool) {
	n := len(p.nonEmpty)
	if n < 2 {
		return Move{}, false
	}
	i := rng.Intn(n)
	j := rng.Intn(n - 1)
	if j >= i {
		j++
	}
	b1, b2 := p.nonEmpty[i], p.nonEmpty[j]
	m := Move{
		FromBus:   b1,
		FromIndex: rng.Intn(len(p.Buses[b1])),
		ToBus:     b2,
		ToIndex:   rng.Intn(len(p.Buses[b2])),
	}
	m.Apply(p)
	return m, true
}

// AcceptanceProbability is the Metropolis rule exp((old-new)/temp), capped
// at 1. Any improvement, and any overflow of the exponential, yields exactly 1.
func AcceptanceProbability(oldCost, newCost, temp float64) float64 {
	if newCost < oldCost {
		return 1
	}
	p := math.Exp((oldCost - newCost) / temp)
	if math.IsInf(p, 1) || math.IsNaN(p) || p > 1 {
		return 1
	}
	return p
}

// Accept draws from rng and accepts when the draw is strictly below the
// acceptance probability.
func Accept(oldCost, newCost, temp float64, rng *rand.Rand) bool {
	return rng.Float64() < AcceptanceProbability(oldCost, newCost, temp)
}
