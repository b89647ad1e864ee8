package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.uber.org/zap"

	"buses/config"
	"buses/instance"
	"buses/metrics"
	"buses/solver"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	inputs := flag.String("inputs", "", "directory holding the size category folders")
	outputs := flag.String("outputs", "", "directory to write .out files to")
	categories := flag.String("categories", "", "comma-separated size categories")
	workers := flag.Int("workers", 0, "instances solved in parallel")
	seed := flag.Int64("seed", 0, "base random seed; instance i uses seed+i")
	objective := flag.String("objective", "", "violations, friendships, weighted or normalized")
	refine := flag.String("refine", "", "objective for a second pass once no rowdy group rides together")
	builder := flag.String("builder", "", "initial assignment: roundrobin or greedy")
	budget := flag.Duration("budget", 0, "wall-clock budget per instance, 0 for none")
	keepBetter := flag.Bool("keep-better", false, "only overwrite outputs the new solution beats")
	summary := flag.String("summary", "", "write a CSV summary to this path")
	metricsFile := flag.String("metrics-file", "", "write Prometheus metrics to this path when the batch ends")
	verbose := flag.Bool("verbose", false, "development logging with annealing progress")
	flag.Parse()

	logger, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("loading config", zap.Error(err))
	}

	var overrideErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "inputs":
			cfg.Inputs = *inputs
		case "outputs":
			cfg.Outputs = *outputs
		case "categories":
			cfg.Categories = splitList(*categories)
		case "workers":
			cfg.Workers = *workers
		case "seed":
			cfg.Seed = *seed
		case "budget":
			cfg.Solver.TimeBudget = *budget
		case "keep-better":
			cfg.KeepBetter = *keepBetter
		case "summary":
			cfg.Summary = *summary
		case "metrics-file":
			cfg.MetricsFile = *metricsFile
		case "objective":
			o, err := solver.ParseObjective(*objective)
			if err != nil {
				overrideErr = err
				return
			}
			cfg.Solver.Objective = &o
		case "refine":
			o, err := solver.ParseObjective(*refine)
			if err != nil {
				overrideErr = err
				return
			}
			cfg.Solver.Refine = &o
		case "builder":
			b, err := solver.ParseBuilder(*builder)
			if err != nil {
				overrideErr = err
				return
			}
			cfg.Solver.Builder = &b
		}
	})
	if overrideErr != nil {
		logger.Fatal("parsing flags", zap.Error(overrideErr))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	params, err := cfg.Solver.Params()
	if err != nil {
		logger.Fatal("invalid solver parameters", zap.Error(err))
	}

	refs, err := instance.Discover(cfg.Inputs, cfg.Categories)
	if err != nil {
		logger.Fatal("listing inputs", zap.String("inputs", cfg.Inputs), zap.Error(err))
	}
	logger.Info("starting batch",
		zap.Int("instances", len(refs)),
		zap.Int("workers", cfg.Workers),
		zap.Stringer("objective", params.Objective),
		zap.Stringer("builder", params.Builder),
		zap.Duration("budget", params.TimeBudget))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	metrics.Register()
	b := &batch{cfg: cfg, params: params, logger: logger}
	start := time.Now()
	rows, failed := b.run(ctx, refs)

	if cfg.Summary != "" {
		if err := writeSummary(cfg.Summary, rows); err != nil {
			logger.Error("writing summary", zap.String("path", cfg.Summary), zap.Error(err))
			failed++
		}
	}
	if cfg.MetricsFile != "" {
		if err := metrics.WriteFile(cfg.MetricsFile); err != nil {
			logger.Error("writing metrics", zap.String("path", cfg.MetricsFile), zap.Error(err))
			failed++
		}
	}
	logger.Info("batch finished",
		zap.Int("instances", len(refs)),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)))
	if failed > 0 {
		logger.Sync()
		os.Exit(1)
	}
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
