package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"buses/instance"
	"buses/solver"
)

type runResult struct {
	cost        float64
	violations  int
	friendships int
	key         string
	elapsed     time.Duration
}

func printStats(label string, results []runResult, runs, edges int) {
	scores := map[string]int{}
	solutionSets := map[string]int{}
	var totalTime time.Duration
	var totalViolations, totalFriendships int

	for _, r := range results {
		totalTime += r.elapsed
		scores[fmt.Sprintf("%.4f (v=%d f=%d)", r.cost, r.violations, r.friendships)]++
		solutionSets[r.key]++
		totalViolations += r.violations
		totalFriendships += r.friendships
	}

	fmt.Printf("--- %s ---\n", label)
	if len(results) == 0 {
		fmt.Printf("  no successful runs\n\n")
		return
	}
	fmt.Printf("  avg time: %v\n", totalTime/time.Duration(len(results)))
	fmt.Printf("  avg violations: %.2f\n", float64(totalViolations)/float64(len(results)))
	fmt.Printf("  avg friendships: %.2f/%d\n", float64(totalFriendships)/float64(len(results)), edges)

	var scoreList []struct {
		score string
		count int
	}
	for s, c := range scores {
		scoreList = append(scoreList, struct {
			score string
			count int
		}{s, c})
	}
	sort.Slice(scoreList, func(i, j int) bool { return scoreList[i].score < scoreList[j].score })

	fmt.Printf("  score distribution:\n")
	for _, sc := range scoreList {
		fmt.Printf("    cost %s: %d/%d runs (%.0f%%)\n", sc.score, sc.count, runs, float64(sc.count)/float64(runs)*100)
	}

	fmt.Printf("  unique solutions seen: %d\n", len(solutionSets))
	stableCount := 0
	for _, c := range solutionSets {
		if c == runs {
			stableCount++
		}
	}
	fmt.Printf("  solutions found in all runs: %d\n", stableCount)
	fmt.Println()
}

func main() {
	dir := flag.String("dir", "", "instance directory with graph.gml and parameters.txt")
	runs := flag.Int("runs", 20, "number of solver runs per parameter set")
	objectives := flag.String("objectives", "normalized,weighted", "comma-separated objectives")
	builders := flag.String("builders", "roundrobin,greedy", "comma-separated initial builders")
	coolings := flag.String("cooling", "0.98,0.988", "comma-separated cooling factors")
	trials := flag.String("trials", "100,500", "comma-separated trials per temperature")
	tempHigh := flag.Float64("thigh", 1.0, "initial temperature")
	tempLow := flag.Float64("tlow", 1e-5, "minimum temperature")
	weight := flag.Float64("weight", solver.DefaultFriendshipWeight, "friendship weight for the weighted objective")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "-dir is required")
		os.Exit(2)
	}
	in, err := instance.Load(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading instance: %v\n", err)
		os.Exit(1)
	}
	pr, err := in.Problem()
	if err != nil {
		fmt.Fprintf(os.Stderr, "building problem: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Instance: %s/%s\n", in.Category, in.Name)
	fmt.Printf("Students: %d, Buses: %d, Bus size: %d\n", pr.NumStudents(), pr.NumBuses(), pr.BusSize())
	fmt.Printf("Friendships: %d, Rowdy groups: %d\n", pr.NumFriendships(), pr.NumRowdyGroups())
	fmt.Printf("Runs per config: %d\n\n", *runs)

	for _, name := range splitList(*objectives) {
		obj, err := solver.ParseObjective(name)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		for _, bs := range splitList(*builders) {
			b, err := solver.ParseBuilder(bs)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(2)
			}
			for _, cooling := range parseFloatList(*coolings) {
				for _, nt := range parseIntList(*trials) {
					params := solver.Params{
						InitialTemp:      *tempHigh,
						MinTemp:          *tempLow,
						Cooling:          cooling,
						TrialsPerTemp:    nt,
						Objective:        obj,
						FriendshipWeight: *weight,
						Builder:          b,
					}
					var results []runResult
					for run := range *runs {
						rng := rand.New(rand.NewSource(int64(run * 31337)))
						res, err := solver.Solve(pr, params, rng)
						if err != nil {
							fmt.Fprintf(os.Stderr, "solve: %v\n", err)
							os.Exit(1)
						}
						results = append(results, runResult{res.Cost, res.Violations, res.Friendships, res.Partition.Key(), res.Elapsed})
					}
					label := fmt.Sprintf("%s builder=%s cooling=%.3f trials=%d", obj, b, cooling, nt)
					printStats(label, results, *runs, pr.NumFriendships())
				}
			}
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntList(s string) []int {
	var result []int
	for _, p := range splitList(s) {
		v, err := strconv.Atoi(p)
		if err == nil {
			result = append(result, v)
		}
	}
	return result
}

func parseFloatList(s string) []float64 {
	var result []float64
	for _, p := range splitList(s) {
		v, err := strconv.ParseFloat(p, 64)
		if err == nil {
			result = append(result, v)
		}
	}
	return result
}
