package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"seating/solver"
)

func newAllocateCmd(logger func() *log.Logger) *cobra.Command {
	var in input
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Run one allocation and print the seat grids",
		RunE: func(cmd *cobra.Command, args []string) error {
			l := logger()
			opts, err := in.options(l)
			if err != nil {
				return err
			}
			descs, students, err := in.load()
			if err != nil {
				return err
			}
			rooms, err := solver.BuildRooms(descs)
			if err != nil {
				return err
			}
			res, err := solver.NewAllocator(opts).Allocate(rooms, solver.GroupStudents(students))
			if res == nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(summarize(res)); err != nil {
					return err
				}
			} else {
				printResult(out, res)
			}
			return err
		},
	}
	in.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

type roomSummary struct {
	ID       int64      `json:"id"`
	Occupied int        `json:"occupied"`
	Capacity int        `json:"capacity"`
	Grid     [][]string `json:"grid"`
}

type summary struct {
	Students   int              `json:"students"`
	Seated     int              `json:"seated"`
	Unassigned []int64          `json:"unassigned"`
	Duplicates []int64          `json:"duplicates,omitempty"`
	Moves      int              `json:"optimizer_moves"`
	Seats      solver.SeatCount `json:"seats"`
	Rooms      []roomSummary    `json:"rooms"`
}

func summarize(res *solver.Result) summary {
	s := summary{
		Students:   res.TotalStudents,
		Seated:     res.TotalAssignedSeats,
		Unassigned: []int64{},
		Duplicates: res.Duplicates,
		Moves:      res.OptimizerMoves,
		Seats:      res.Seats,
	}
	for _, st := range res.Unassigned {
		s.Unassigned = append(s.Unassigned, st.ID)
	}
	for _, r := range res.Rooms {
		s.Rooms = append(s.Rooms, roomSummary{ID: r.ID, Occupied: r.Occupied(), Capacity: r.Capacity(), Grid: grid(r)})
	}
	return s
}

// grid renders each seat as its course id, or "." when free.
func grid(r *solver.Room) [][]string {
	g := make([][]string, r.Rows)
	for i, row := range r.Seats {
		g[i] = make([]string, len(row))
		for j, seat := range row {
			g[i][j] = "."
			if seat.Occupied {
				g[i][j] = seat.CourseID
			}
		}
	}
	return g
}

func printResult(w io.Writer, res *solver.Result) {
	for _, r := range res.Rooms {
		fmt.Fprintf(w, "room %d %s (%d/%d)\n", r.ID, r.Description, r.Occupied(), r.Capacity())
		g := grid(r)
		width := 1
		for _, row := range g {
			for _, c := range row {
				width = max(width, len(c))
			}
		}
		for _, row := range g {
			cells := make([]string, len(row))
			for i, c := range row {
				cells[i] = fmt.Sprintf("%-*s", width, c)
			}
			fmt.Fprintf(w, "  %s\n", strings.TrimRight(strings.Join(cells, " "), " "))
		}
		if conflicts := solver.AdjacencyConflicts(r); len(conflicts) > 0 {
			fmt.Fprintf(w, "  %d adjacent pairs share a course\n", len(conflicts))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "students: %d, seated: %d, unassigned: %d, optimizer moves: %d\n",
		res.TotalStudents, res.TotalAssignedSeats, res.TotalUnassigned, res.OptimizerMoves)
	if len(res.Duplicates) > 0 {
		fmt.Fprintf(w, "seated more than once: %v\n", res.Duplicates)
	}
}
