package solver

import (
	"fmt"
	"math/rand"
	"slices"
	"time"
)

type Params struct {
	InitialTemp   float64
	MinTemp       float64
	Cooling       float64
	TrialsPerTemp int
	// TimeBudget bounds the whole run. Zero means no limit. It is checked
	// once per temperature step.
	TimeBudget time.Duration

	Objective        Objective
	FriendshipWeight float64
	Builder          Builder

	// Refine, if set, reruns annealing under this objective once the first
	// pass has no rowdy group violations.
	Refine *Objective

	Progress func(Progress)
}

var DefaultParams = Params{
	InitialTemp:      1.0,
	MinTemp:          1e-5,
	Cooling:          0.98,
	TrialsPerTemp:    100,
	Objective:        Normalized,
	FriendshipWeight: DefaultFriendshipWeight,
	Builder:          RoundRobin,
}

func (p Params) Validate() error {
	switch {
	case !(p.InitialTemp > 0):
		return fmt.Errorf("%w: initial temperature %v", ErrInvalidParams, p.InitialTemp)
	case !(p.MinTemp > 0) || p.MinTemp >= p.InitialTemp:
		return fmt.Errorf("%w: minimum temperature %v", ErrInvalidParams, p.MinTemp)
	case !(p.Cooling > 0 && p.Cooling < 1):
		return fmt.Errorf("%w: cooling factor %v", ErrInvalidParams, p.Cooling)
	case p.TrialsPerTemp <= 0:
		return fmt.Errorf("%w: trials per temperature %d", ErrInvalidParams, p.TrialsPerTemp)
	case p.TimeBudget < 0:
		return fmt.Errorf("%w: time budget %v", ErrInvalidParams, p.TimeBudget)
	case p.Builder != RoundRobin && p.Builder != Greedy:
		return fmt.Errorf("%w: builder %v", ErrInvalidParams, p.Builder)
	}
	if _, ok := objectiveNames[p.Objective]; !ok {
		return fmt.Errorf("%w: objective %v", ErrInvalidParams, p.Objective)
	}
	if p.Refine != nil {
		if _, ok := objectiveNames[*p.Refine]; !ok {
			return fmt.Errorf("%w: refine objective %v", ErrInvalidParams, *p.Refine)
		}
	}
	return nil
}

// Progress is reported once per temperature step.
type Progress struct {
	Objective Objective
	Iteration int
	Temp      float64
	Cost      float64
	BestCost  float64
}

type Result struct {
	Partition *Partition
	Objective Objective
	Cost      float64
	// BestCost is the incumbent's cost in the final stage. It is never
	// above Cost.
	BestCost float64

	Violations   int
	Friendships  int
	OverCapacity int

	Iterations   int
	Trials       int
	Accepted     int
	Improvements int
	FinalTemp    float64
	TimedOut     bool
	Elapsed      time.Duration
	Stages       []Objective
}

type tracker struct {
	best     *Partition
	bestCost float64
}

func newTracker(initial *Partition, cost float64) *tracker {
	return &tracker{best: initial.Clone(), bestCost: cost}
}

// add records p if it beats the incumbent. p keeps changing after this
// call, so the incumbent is a deep copy.
func (t *tracker) add(p *Partition, cost float64) bool {
	if cost >= t.bestCost {
		return false
	}
	t.best = p.Clone()
	t.bestCost = cost
	return true
}

// Solve builds an initial partition with params.Builder and anneals it.
func Solve(pr *Problem, params Params, rng *rand.Rand) (Result, error) {
	if err := params.Validate(); err != nil {
		return Result{}, err
	}
	start := time.Now()
	var deadline time.Time
	if params.TimeBudget > 0 {
		deadline = start.Add(params.TimeBudget)
	}

	res := anneal(pr, params.Builder.build(pr, rng), params.Objective, params, deadline, rng)
	res.Stages = []Objective{params.Objective}

	if params.Refine != nil && *params.Refine != params.Objective && res.Violations == 0 && !res.TimedOut {
		refined := anneal(pr, res.Partition.Clone(), *params.Refine, params, deadline, rng)
		res = adoptRefined(res, refined)
	}

	res.Elapsed = time.Since(start)
	return res, nil
}

// adoptRefined folds a refinement pass into first. The refined partition
// replaces first only if it has no violations and keeps more friendships.
// Search counters always accumulate.
func adoptRefined(first, refined Result) Result {
	res := first
	res.Stages = append(slices.Clone(first.Stages), refined.Objective)
	res.Iterations += refined.Iterations
	res.Trials += refined.Trials
	res.Accepted += refined.Accepted
	res.Improvements += refined.Improvements
	res.TimedOut = refined.TimedOut
	res.FinalTemp = refined.FinalTemp
	if refined.Violations == 0 && refined.Friendships > first.Friendships {
		res.Partition = refined.Partition
		res.Objective = refined.Objective
		res.Cost = refined.Cost
		res.BestCost = refined.BestCost
		res.Violations = refined.Violations
		res.Friendships = refined.Friendships
		res.OverCapacity = refined.OverCapacity
	}
	return res
}

// Anneal runs one annealing pass from start under params.Objective. start is
// not modified.
func Anneal(pr *Problem, start *Partition, params Params, rng *rand.Rand) (Result, error) {
	if err := params.Validate(); err != nil {
		return Result{}, err
	}
	if len(start.busOf) != len(pr.students) {
		return Result{}, fmt.Errorf("%w: partition has %d students, problem has %d", ErrBadPartition, len(start.busOf), len(pr.students))
	}
	began := time.Now()
	var deadline time.Time
	if params.TimeBudget > 0 {
		deadline = began.Add(params.TimeBudget)
	}
	res := anneal(pr, start.Clone(), params.Objective, params, deadline, rng)
	res.Stages = []Objective{params.Objective}
	res.Elapsed = time.Since(began)
	return res, nil
}

func anneal(pr *Problem, cur *Partition, obj Objective, params Params, deadline time.Time, rng *rand.Rand) Result {
	score := func(p *Partition) float64 {
		return pr.Score(obj, params.FriendshipWeight, p)
	}

	curCost := score(cur)
	tr := newTracker(cur, curCost)
	res := Result{Objective: obj}

	t := params.InitialTemp
	movable := len(cur.nonEmpty) >= 2
	for movable && t > params.MinTemp {
		if !deadline.IsZero() && time.Now().After(deadline) {
			res.TimedOut = true
			break
		}
		res.Iterations++

		for range params.TrialsPerTemp {
			m, _ := Propose(cur, rng)
			newCost := score(cur)
			res.Trials++
			if tr.add(cur, newCost) {
				res.Improvements++
			}
			if Accept(curCost, newCost, t, rng) {
				curCost = newCost
				res.Accepted++
			} else {
				m.Apply(cur)
			}
		}

		if params.Progress != nil {
			params.Progress(Progress{
				Objective: obj,
				Iteration: res.Iterations,
				Temp:      t,
				Cost:      curCost,
				BestCost:  tr.bestCost,
			})
		}
		t *= params.Cooling
	}
	res.FinalTemp = t

	final, finalCost := cur, curCost
	if tr.bestCost < curCost {
		final, finalCost = tr.best, tr.bestCost
	}
	res.Partition = final
	res.Cost = finalCost
	res.BestCost = tr.bestCost
	res.Violations = pr.Violations(final)
	res.Friendships = pr.Friendships(final)
	res.OverCapacity = pr.OverCapacity(final)
	return res
}

// SortedGroups returns the labelled buses with each bus sorted, in bus order.
// Output files use this form so reruns diff cleanly.
func (pr *Problem) SortedGroups(p *Partition) [][]string {
	groups := pr.Groups(p)
	for _, g := range groups {
		slices.Sort(g)
	}
	return groups
}
