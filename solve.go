package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"buses/metrics"
	"buses/solver"
)

type roster struct {
	students    []student
	friendships []friendship
	rowdy       []rowdyGroup
}

func loadRoster(db *sql.DB, tripID int64) (roster, error) {
	var ro roster
	var err error
	if ro.students, err = loadStudents(db, tripID); err != nil {
		return roster{}, err
	}
	if ro.friendships, err = loadFriendships(db, tripID); err != nil {
		return roster{}, err
	}
	if ro.rowdy, err = loadRowdyGroups(db, tripID); err != nil {
		return roster{}, err
	}
	return ro, nil
}

func studentKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// problem labels each student by database id. Rowdy group members that no
// longer exist are skipped.
func (ro roster) problem(numBuses, busSize int) (*solver.Problem, error) {
	names := make([]string, len(ro.students))
	known := make(map[int64]bool, len(ro.students))
	for i, st := range ro.students {
		names[i] = studentKey(st.ID)
		known[st.ID] = true
	}
	edges := make([][2]string, 0, len(ro.friendships))
	for _, f := range ro.friendships {
		edges = append(edges, [2]string{studentKey(f.StudentAID), studentKey(f.StudentBID)})
	}
	var rowdy [][]string
	for _, g := range ro.rowdy {
		var members []string
		for _, id := range g.StudentIDs {
			if known[id] {
				members = append(members, studentKey(id))
			}
		}
		rowdy = append(rowdy, members)
	}
	return solver.NewProblem(names, edges, rowdy, numBuses, busSize)
}

// buses maps a solution back to students, one slice per bus.
func (ro roster) buses(pr *solver.Problem, p *solver.Partition) [][]student {
	byKey := make(map[string]student, len(ro.students))
	for _, st := range ro.students {
		byKey[studentKey(st.ID)] = st
	}
	groups := pr.SortedGroups(p)
	out := make([][]student, len(groups))
	for i, g := range groups {
		out[i] = make([]student, 0, len(g))
		for _, key := range g {
			out[i] = append(out[i], byKey[key])
		}
	}
	return out
}

type solveRequest struct {
	Seed       *int64  `json:"seed"`
	Objective  *string `json:"objective"`
	Refine     *string `json:"refine"`
	Builder    *string `json:"builder"`
	TimeBudget *string `json:"time_budget"`
}

// params overlays the request on the trip's stored settings.
func (req solveRequest) params(t trip) (solver.Params, int64, error) {
	params := solver.DefaultParams
	params.TimeBudget = time.Duration(t.TimeBudgetSeconds) * time.Second

	objective := t.Objective
	if req.Objective != nil {
		objective = *req.Objective
	}
	o, err := solver.ParseObjective(objective)
	if err != nil {
		return solver.Params{}, 0, err
	}
	params.Objective = o

	if req.Refine != nil {
		r, err := solver.ParseObjective(*req.Refine)
		if err != nil {
			return solver.Params{}, 0, err
		}
		params.Refine = &r
	}
	if req.Builder != nil {
		b, err := solver.ParseBuilder(*req.Builder)
		if err != nil {
			return solver.Params{}, 0, err
		}
		params.Builder = b
	}
	if req.TimeBudget != nil {
		d, err := time.ParseDuration(*req.TimeBudget)
		if err != nil || d < 0 {
			return solver.Params{}, 0, fmt.Errorf("invalid time_budget %q", *req.TimeBudget)
		}
		params.TimeBudget = d
	}

	seed := time.Now().UnixNano()
	if req.Seed != nil {
		seed = *req.Seed
	}
	return params, seed, params.Validate()
}

type solveRun struct {
	ID           uuid.UUID   `json:"id"`
	Objective    string      `json:"objective"`
	Seed         int64       `json:"seed"`
	Cost         float64     `json:"cost"`
	Violations   int         `json:"violations"`
	Friendships  int         `json:"friendships"`
	OverCapacity int         `json:"over_capacity"`
	TimedOut     bool        `json:"timed_out"`
	ElapsedMS    int64       `json:"elapsed_ms"`
	Buses        [][]student `json:"buses"`
	CreatedAt    time.Time   `json:"created_at"`
}

func handleSolve(db *sql.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, tripID, ok := requireTripAdmin(db, logger, w, r)
		if !ok {
			return
		}

		var req solveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		t, err := loadTrip(db, tripID)
		if err == sql.ErrNoRows {
			http.Error(w, "trip not found", http.StatusNotFound)
			return
		}
		if err != nil {
			serverError(logger, w, r, err)
			return
		}
		params, seed, err := req.params(t)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ro, err := loadRoster(db, tripID)
		if err != nil {
			serverError(logger, w, r, err)
			return
		}
		pr, err := ro.problem(t.NumBuses, t.BusSize)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		log := logger.With(zap.Int64("trip_id", tripID), zap.String("by", email), zap.Int64("seed", seed))
		log.Info("solving",
			zap.Int("students", pr.NumStudents()),
			zap.Int("friendships", pr.NumFriendships()),
			zap.Int("rowdy_groups", pr.NumRowdyGroups()),
			zap.Stringer("objective", params.Objective))

		start := time.Now()
		res, err := solver.Solve(pr, params, rand.New(rand.NewSource(seed)))
		if err != nil {
			metrics.Failed(params.Objective, time.Since(start))
			serverError(logger, w, r, err)
			return
		}
		metrics.Observe(res)

		run := solveRun{
			ID:           uuid.New(),
			Objective:    res.Objective.String(),
			Seed:         seed,
			Cost:         res.Cost,
			Violations:   res.Violations,
			Friendships:  res.Friendships,
			OverCapacity: res.OverCapacity,
			TimedOut:     res.TimedOut,
			ElapsedMS:    res.Elapsed.Milliseconds(),
			Buses:        ro.buses(pr, res.Partition),
		}
		busesJSON, err := json.Marshal(run.Buses)
		if err != nil {
			serverError(logger, w, r, err)
			return
		}
		err = db.QueryRow(`
			INSERT INTO solve_runs (id, trip_id, objective, seed, cost, violations, friendships, over_capacity, timed_out, elapsed_ms, buses)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING created_at`,
			run.ID, tripID, run.Objective, run.Seed, run.Cost, run.Violations, run.Friendships,
			run.OverCapacity, run.TimedOut, run.ElapsedMS, busesJSON).Scan(&run.CreatedAt)
		if err != nil {
			serverError(logger, w, r, err)
			return
		}

		log.Info("solved",
			zap.Stringer("run", run.ID),
			zap.Float64("cost", res.Cost),
			zap.Int("violations", res.Violations),
			zap.Int("friendships", res.Friendships),
			zap.Bool("timed_out", res.TimedOut),
			zap.Duration("elapsed", res.Elapsed))
		writeJSON(w, run)
	}
}

func handleListRuns(db *sql.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, tripID, ok := requireTripAdmin(db, logger, w, r)
		if !ok {
			return
		}
		rows, err := db.Query(`
			SELECT id, objective, seed, cost, violations, friendships, over_capacity, timed_out, elapsed_ms, buses, created_at
			FROM solve_runs
			WHERE trip_id = $1
			ORDER BY created_at DESC
			LIMIT 50`, tripID)
		if err != nil {
			serverError(logger, w, r, err)
			return
		}
		defer rows.Close()

		runs := []solveRun{}
		for rows.Next() {
			var run solveRun
			var busesJSON []byte
			if err := rows.Scan(&run.ID, &run.Objective, &run.Seed, &run.Cost, &run.Violations, &run.Friendships,
				&run.OverCapacity, &run.TimedOut, &run.ElapsedMS, &busesJSON, &run.CreatedAt); err != nil {
				serverError(logger, w, r, err)
				return
			}
			if err := json.Unmarshal(busesJSON, &run.Buses); err != nil {
				serverError(logger, w, r, err)
				return
			}
			runs = append(runs, run)
		}
		if err := rows.Err(); err != nil {
			serverError(logger, w, r, err)
			return
		}
		writeJSON(w, runs)
	}
}
