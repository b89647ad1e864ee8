// Package config loads batch run settings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"buses/instance"
	"buses/solver"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Inputs      string   `yaml:"inputs"`
	Outputs     string   `yaml:"outputs"`
	Categories  []string `yaml:"categories"`
	Workers     int      `yaml:"workers"`
	Seed        int64    `yaml:"seed"`
	Summary     string   `yaml:"summary"`
	KeepBetter  bool     `yaml:"keep_better"`
	MetricsFile string   `yaml:"metrics_file"`
	Solver      Solver   `yaml:"solver"`
}

// Solver mirrors solver.Params. Zero fields fall back to solver.DefaultParams,
// except FriendshipWeight, where only an absent value does.
type Solver struct {
	InitialTemp      float64           `yaml:"initial_temp"`
	MinTemp          float64           `yaml:"min_temp"`
	Cooling          float64           `yaml:"cooling"`
	TrialsPerTemp    int               `yaml:"trials_per_temp"`
	TimeBudget       time.Duration     `yaml:"time_budget"`
	Objective        *solver.Objective `yaml:"objective"`
	Refine           *solver.Objective `yaml:"refine"`
	FriendshipWeight *float64          `yaml:"friendship_weight"`
	Builder          *solver.Builder   `yaml:"builder"`
}

func Default() Config {
	return Config{
		Inputs:     "all_inputs",
		Outputs:    "outputs",
		Categories: slices.Clone(instance.DefaultCategories),
		Workers:    4,
		Seed:       1,
	}
}

// Load reads path over Default(). An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Inputs == "" || c.Outputs == "" {
		return fmt.Errorf("%w: inputs and outputs are required", ErrInvalidConfig)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, c.Workers)
	}
	if _, err := c.Solver.Params(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Params overlays the configured values on solver.DefaultParams.
func (s Solver) Params() (solver.Params, error) {
	p := solver.DefaultParams
	if s.InitialTemp != 0 {
		p.InitialTemp = s.InitialTemp
	}
	if s.MinTemp != 0 {
		p.MinTemp = s.MinTemp
	}
	if s.Cooling != 0 {
		p.Cooling = s.Cooling
	}
	if s.TrialsPerTemp != 0 {
		p.TrialsPerTemp = s.TrialsPerTemp
	}
	p.TimeBudget = s.TimeBudget
	if s.Objective != nil {
		p.Objective = *s.Objective
	}
	if s.Refine != nil {
		r := *s.Refine
		p.Refine = &r
	}
	if s.FriendshipWeight != nil {
		p.FriendshipWeight = *s.FriendshipWeight
	}
	if s.Builder != nil {
		p.Builder = *s.Builder
	}
	return p, p.Validate()
}
