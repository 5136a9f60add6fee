package solver

import (
	"time"

	"github.com/charmbracelet/log"
)

type Options struct {
	Scan ScanOrder
	// Strict rejects a run in which any student ended up seated twice.
	// Otherwise duplicates are logged and reported in Result.Duplicates.
	Strict bool
	// RelaxSingleGroup lets students that strict seating could not place sit
	// side by side in a room holding only their own key. It never applies
	// while a strict seat is still available.
	RelaxSingleGroup bool
	SkipOptimize     bool

	Logger  *log.Logger
	Metrics Metrics
}

var DefaultOptions = Options{
	Scan:             ColumnMajor,
	RelaxSingleGroup: true,
}

type Result struct {
	Rooms              []*Room
	Unassigned         []Student
	TotalStudents      int
	TotalAssignedSeats int
	TotalUnassigned    int
	Seats              SeatCount
	Duplicates         []int64
	OptimizerMoves     int
	// RelaxedSeats counts students seated next to their own key.
	RelaxedSeats       int
	Elapsed            time.Duration
}

// Allocator runs seating allocations. It holds no per-run state, so one
// Allocator may serve many independent runs as long as each run gets its own
// rooms.
type Allocator struct {
	opts    Options
	log     *log.Logger
	metrics Metrics
}

func NewAllocator(opts Options) *Allocator {
	a := &Allocator{opts: opts, log: opts.Logger, metrics: opts.Metrics}
	if a.log == nil {
		a.log = log.Default()
	}
	if a.metrics == nil {
		a.metrics = NopMetrics{}
	}
	return a
}

// Allocate seats the students of groups into rooms, room by room in the given
// order, then runs the optimizer over whoever is left, and finally lets the
// rest sit side by side where the options allow it. Rooms are mutated in
// place; groups are not.
func (a *Allocator) Allocate(rooms []*Room, groups []*Group) (*Result, error) {
	start := time.Now()

	if len(rooms) == 0 {
		return nil, New(CodeNoRooms, "no rooms to allocate into")
	}
	for _, r := range rooms {
		if r.Rows <= 0 || r.Cols <= 0 || len(r.Seats) != r.Rows {
			return nil, New(CodeInvalidRoom, "room %d has invalid dimensions %dx%d", r.ID, r.Rows, r.Cols)
		}
	}

	remaining := make([]*Group, 0, len(groups))
	for _, g := range groups {
		if g == nil || g.Len() == 0 {
			continue
		}
		if err := g.validate(); err != nil {
			return nil, err
		}
		remaining = append(remaining, g.clone())
	}
	if len(remaining) == 0 {
		return nil, New(CodeNoStudents, "no students to seat")
	}
	sortGroups(remaining)

	res := &Result{Rooms: rooms, TotalStudents: countStudents(remaining)}
	a.log.Debug("allocating", "rooms", len(rooms), "groups", len(remaining), "students", res.TotalStudents)

	for _, room := range rooms {
		if len(remaining) == 0 {
			break
		}
		a.assign(room, remaining)
		remaining = nonEmpty(remaining)
		a.log.Debug("room filled", "room", room.ID, "occupied", room.Occupied(), "capacity", room.Capacity(), "pending", countStudents(remaining))
	}

	if len(remaining) > 0 && !a.opts.SkipOptimize {
		before := countStudents(remaining)
		res.OptimizerMoves = a.optimize(rooms, remaining)
		remaining = nonEmpty(remaining)
		a.log.Debug("optimizer done", "moves", res.OptimizerMoves, "before", before, "after", countStudents(remaining))
	}

	if len(remaining) > 0 && a.opts.RelaxSingleGroup {
		res.RelaxedSeats = a.settle(rooms, remaining)
		remaining = nonEmpty(remaining)
	}

	for _, g := range remaining {
		res.Unassigned = append(res.Unassigned, g.Students...)
	}
	res.Seats = CountSeats(rooms)
	res.TotalAssignedSeats = res.Seats.Occupied
	res.TotalUnassigned = len(res.Unassigned)
	res.Duplicates = FindDuplicates(rooms)
	res.Elapsed = time.Since(start)

	a.metrics.ObserveAllocation(res.Elapsed, res.TotalStudents, res.TotalAssignedSeats, res.TotalUnassigned)
	a.metrics.AddOptimizerMoves(res.OptimizerMoves)

	if len(res.Duplicates) > 0 {
		a.metrics.AddDuplicates(len(res.Duplicates))
		if a.opts.Strict {
			return res, New(CodeDuplicateSeat, "%d students seated more than once: %v", len(res.Duplicates), res.Duplicates)
		}
		a.log.Warn("students seated more than once", "ids", res.Duplicates)
	}

	a.log.Info("allocation finished",
		"students", res.TotalStudents,
		"seated", res.TotalAssignedSeats,
		"unassigned", res.TotalUnassigned,
		"elapsed", res.Elapsed.Round(time.Microsecond))
	return res, nil
}
