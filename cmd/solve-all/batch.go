package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"buses/config"
	"buses/instance"
	"buses/metrics"
	"buses/solver"
)

// progressEvery throttles debug logging of temperature steps.
const progressEvery = 100

type summaryRow struct {
	Category     string  `csv:"category"`
	Name         string  `csv:"name"`
	Students     int     `csv:"students"`
	Buses        int     `csv:"buses"`
	BusSize      int     `csv:"bus_size"`
	Edges        int     `csv:"edges"`
	RowdyGroups  int     `csv:"rowdy_groups"`
	Violations   int     `csv:"violations"`
	Friendships  int     `csv:"friendships"`
	OverCapacity int     `csv:"over_capacity"`
	Objective    string  `csv:"objective"`
	Cost         float64 `csv:"cost"`
	Elapsed      string  `csv:"elapsed"`
	Written      bool    `csv:"written"`
	Error        string  `csv:"error"`
}

type batch struct {
	cfg    config.Config
	params solver.Params
	logger *zap.Logger
}

// run solves every ref with at most cfg.Workers instances in flight. A
// failed instance is recorded in its row and does not stop the others.
func (b *batch) run(ctx context.Context, refs []instance.Ref) ([]summaryRow, int) {
	rows := make([]summaryRow, len(refs))
	var failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(b.cfg.Workers)
	for i, ref := range refs {
		if ctx.Err() != nil {
			rows[i] = summaryRow{Category: ref.Category, Name: ref.Name, Error: ctx.Err().Error()}
			failed.Add(1)
			continue
		}
		g.Go(func() error {
			row, err := b.solveOne(ref, b.cfg.Seed+int64(i))
			if err != nil {
				failed.Add(1)
				row.Error = err.Error()
				b.logger.Error("instance failed", zap.Stringer("instance", ref), zap.Error(err))
			}
			rows[i] = row
			return nil
		})
	}
	g.Wait()
	return rows, int(failed.Load())
}

func (b *batch) solveOne(ref instance.Ref, seed int64) (summaryRow, error) {
	row := summaryRow{Category: ref.Category, Name: ref.Name}
	log := b.logger.With(zap.Stringer("instance", ref), zap.Int64("seed", seed))

	in, err := instance.Load(ref.Dir)
	if err != nil {
		return row, err
	}
	pr, err := in.Problem()
	if err != nil {
		return row, err
	}
	row.Students = pr.NumStudents()
	row.Buses = pr.NumBuses()
	row.BusSize = pr.BusSize()
	row.Edges = pr.NumFriendships()
	row.RowdyGroups = pr.NumRowdyGroups()

	params := b.params
	if log.Core().Enabled(zap.DebugLevel) {
		params.Progress = func(pg solver.Progress) {
			if pg.Iteration%progressEvery != 0 {
				return
			}
			log.Debug("annealing",
				zap.Stringer("objective", pg.Objective),
				zap.Int("iteration", pg.Iteration),
				zap.Float64("temp", pg.Temp),
				zap.Float64("cost", pg.Cost),
				zap.Float64("best", pg.BestCost))
		}
	}

	start := time.Now()
	res, err := solver.Solve(pr, params, rand.New(rand.NewSource(seed)))
	if err != nil {
		metrics.Failed(params.Objective, time.Since(start))
		return row, err
	}
	metrics.Observe(res)

	row.Violations = res.Violations
	row.Friendships = res.Friendships
	row.OverCapacity = res.OverCapacity
	row.Objective = res.Objective.String()
	row.Cost = res.Cost
	row.Elapsed = res.Elapsed.Round(time.Millisecond).String()

	out := instance.OutputPath(b.cfg.Outputs, ref)
	if b.cfg.KeepBetter {
		prev, ok := b.previousCost(pr, res.Objective, out, log)
		if ok && prev <= res.Cost {
			log.Info("kept existing output", zap.Float64("existing", prev), zap.Float64("cost", res.Cost))
			return row, nil
		}
	}
	if err := instance.WriteFile(out, pr.SortedGroups(res.Partition)); err != nil {
		return row, err
	}
	row.Written = true

	log.Info("solved",
		zap.Int("violations", res.Violations),
		zap.Int("friendships", res.Friendships),
		zap.Int("edges", pr.NumFriendships()),
		zap.Float64("cost", res.Cost),
		zap.Bool("timed_out", res.TimedOut),
		zap.Duration("elapsed", res.Elapsed))
	return row, nil
}

// previousCost scores an existing output file. Unreadable or stale files
// count as absent.
func (b *batch) previousCost(pr *solver.Problem, obj solver.Objective, path string, log *zap.Logger) (float64, bool) {
	groups, err := instance.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false
	}
	if err != nil {
		log.Warn("ignoring unreadable output", zap.String("path", path), zap.Error(err))
		return 0, false
	}
	p, err := pr.PartitionOf(groups)
	if err != nil {
		log.Warn("ignoring stale output", zap.String("path", path), zap.Error(err))
		return 0, false
	}
	return pr.Score(obj, b.params.FriendshipWeight, p), true
}

func writeSummary(path string, rows []summaryRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		f.Close()
		return fmt.Errorf("writing summary: %w", err)
	}
	return f.Close()
}
