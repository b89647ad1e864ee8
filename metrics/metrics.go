package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"buses/solver"
)

var (
	// Registry is the dedicated registry served on /metrics.
	Registry = prometheus.NewRegistry()

	// SolveRuns counts solver runs by objective and outcome.
	SolveRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bus_solve_runs_total", Help: "Solver runs by objective and outcome."},
		[]string{"objective", "outcome"},
	)
	// SolveDuration records solver wall time in seconds.
	SolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "bus_solve_duration_seconds", Help: "Solver wall time in seconds.", Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 1800}},
		[]string{"objective"},
	)
	Violations = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "bus_solve_last_violations", Help: "Rowdy group violations in the last solution."},
	)
	Friendships = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "bus_solve_last_friendships", Help: "Friendships preserved in the last solution."},
	)
)

var regOnce sync.Once

func Register() {
	regOnce.Do(func() {
		Registry.MustRegister(SolveRuns)
		Registry.MustRegister(SolveDuration)
		Registry.MustRegister(Violations)
		Registry.MustRegister(Friendships)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Observe records one finished run.
func Observe(res solver.Result) {
	outcome := "ok"
	if res.TimedOut {
		outcome = "timeout"
	}
	obj := res.Objective.String()
	SolveRuns.WithLabelValues(obj, outcome).Inc()
	SolveDuration.WithLabelValues(obj).Observe(res.Elapsed.Seconds())
	Violations.Set(float64(res.Violations))
	Friendships.Set(float64(res.Friendships))
}

// Failed records a run that never produced a result.
func Failed(objective solver.Objective, elapsed time.Duration) {
	SolveRuns.WithLabelValues(objective.String(), "error").Inc()
	SolveDuration.WithLabelValues(objective.String()).Observe(elapsed.Seconds())
}

// WriteFile dumps Registry to path in the Prometheus text format, for
// node_exporter's textfile collector.
func WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
