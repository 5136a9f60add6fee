// Command seat-plan runs the seating allocator against JSON files, without a
// database, for trying out room layouts and benchmarking.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"seating/solver"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// input holds the flags shared by every command.
type input struct {
	rooms    string
	students string
	scan     string
	strict   bool
	relax    bool
	noOpt    bool
}

func (in *input) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&in.rooms, "rooms", "rooms.json", "JSON file with a list of rooms")
	f.StringVar(&in.students, "students", "students.json", "JSON file with a list of student exam records")
	f.StringVar(&in.scan, "scan", "column", "seat scan order: column or row")
	f.BoolVar(&in.strict, "strict", false, "fail when a student is seated twice")
	f.BoolVar(&in.relax, "relax", true, "let students strict seating left out sit side by side in rooms holding only their course")
	f.BoolVar(&in.noOpt, "no-optimize", false, "skip the evict-and-relocate pass")
}

func (in *input) options(logger *log.Logger) (solver.Options, error) {
	scan, err := solver.ParseScanOrder(in.scan)
	if err != nil {
		return solver.Options{}, err
	}
	return solver.Options{
		Scan:             scan,
		Strict:           in.strict,
		RelaxSingleGroup: in.relax,
		SkipOptimize:     in.noOpt,
		Logger:           logger,
	}, nil
}

func (in *input) load() ([]solver.RoomDescriptor, []solver.Student, error) {
	var descs []solver.RoomDescriptor
	if err := readJSON(in.rooms, &descs); err != nil {
		return nil, nil, err
	}
	var students []solver.Student
	if err := readJSON(in.students, &students); err != nil {
		return nil, nil, err
	}
	return descs, students, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func newLogger(w io.Writer, verbose bool) *log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:          "seat-plan",
		Short:        "Allocate exam seats from JSON room and student files",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.SetOut(stdout)
	root.SetErr(stderr)

	logger := func() *log.Logger { return newLogger(stderr, verbose) }
	root.AddCommand(newAllocateCmd(logger))
	root.AddCommand(newBenchCmd(logger))
	return root
}
