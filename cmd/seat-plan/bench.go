package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"seating/solver"
)

type runResult struct {
	unassigned int
	moves      int
	elapsed    time.Duration
}

func newBenchCmd(logger func() *log.Logger) *cobra.Command {
	var in input
	var runs int
	var seed uint64
	var shuffleRooms bool
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Repeat the allocation over shuffled inputs and report the spread",
		Long: `Repeat the allocation over shuffled inputs and report the spread.

Groups are always seated largest first, ties broken by course, so shuffling
the student list only changes which student of a course gets which seat. The
unassigned count varies between runs only with --shuffle-rooms, which draws a
new room priority order for every run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runs <= 0 {
				return fmt.Errorf("--runs must be positive")
			}
			l := logger()
			descs, students, err := in.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Students: %d, Rooms: %d\n", len(students), len(descs))
			fmt.Fprintf(out, "Runs per config: %d\n\n", runs)

			for _, scan := range []solver.ScanOrder{solver.ColumnMajor, solver.RowMajor} {
				for _, skip := range []bool{false, true} {
					if err := cmd.Context().Err(); err != nil {
						return err
					}
					opts, err := in.options(l.WithPrefix("bench"))
					if err != nil {
						return err
					}
					opts.Scan, opts.SkipOptimize, opts.Strict = scan, skip, false
					opts.Logger.SetLevel(log.WarnLevel)

					results, err := bench(solver.NewAllocator(opts), descs, students, runs, seed, shuffleRooms)
					if err != nil {
						return err
					}
					printStats(out, fmt.Sprintf("scan=%s optimize=%t", scan, !skip), results)
				}
			}
			return nil
		},
	}
	in.register(cmd)
	cmd.Flags().IntVar(&runs, "runs", 20, "allocations per configuration")
	cmd.Flags().Uint64Var(&seed, "seed", 31337, "shuffle seed")
	cmd.Flags().BoolVar(&shuffleRooms, "shuffle-rooms", false, "draw random room priorities for every run")
	return cmd
}

func bench(a *solver.Allocator, descs []solver.RoomDescriptor, students []solver.Student, runs int, seed uint64, shuffleRooms bool) ([]runResult, error) {
	var results []runResult
	for run := range runs {
		rng := rand.New(rand.NewPCG(seed, uint64(run)))

		ds := slices.Clone(descs)
		if shuffleRooms {
			for i := range ds {
				ds[i].Priority = rng.IntN(len(ds))
			}
		}
		// Reorders students within a course only.
		st := slices.Clone(students)
		rng.Shuffle(len(st), func(i, j int) { st[i], st[j] = st[j], st[i] })

		rooms, err := solver.BuildRooms(ds)
		if err != nil {
			return nil, err
		}
		start := time.Now()
		res, err := a.Allocate(rooms, solver.GroupStudents(st))
		if err != nil {
			return nil, err
		}
		results = append(results, runResult{res.TotalUnassigned, res.OptimizerMoves, time.Since(start)})
	}
	return results, nil
}

func printStats(w io.Writer, label string, results []runResult) {
	runs := len(results)
	counts := map[int]int{}
	var totalTime time.Duration
	var totalMoves int
	for _, r := range results {
		counts[r.unassigned]++
		totalTime += r.elapsed
		totalMoves += r.moves
	}

	fmt.Fprintf(w, "--- %s ---\n", label)
	fmt.Fprintf(w, "  avg time: %v\n", totalTime/time.Duration(runs))
	fmt.Fprintf(w, "  avg optimizer moves: %.1f\n", float64(totalMoves)/float64(runs))
	fmt.Fprintf(w, "  unassigned distribution:\n")

	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "    %d unassigned: %d/%d runs (%.0f%%)\n", k, counts[k], runs, float64(counts[k])/float64(runs)*100)
	}
	fmt.Fprintln(w)
}
