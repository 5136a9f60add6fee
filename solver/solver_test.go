package solver

import (
	"fmt"
	"io"
	"math/rand"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietOptions() Options {
	opts := DefaultOptions
	opts.Logger = log.New(io.Discard)
	return opts
}

func newTestAllocator(t *testing.T, mutate ...func(*Options)) *Allocator {
	t.Helper()
	opts := quietOptions()
	for _, m := range mutate {
		m(&opts)
	}
	return NewAllocator(opts)
}

func course(id string, n int, firstID int64) *Group {
	g := &Group{Key: Key{Course: id}}
	for i := range n {
		g.Students = append(g.Students, Student{
			ID:         firstID + int64(i),
			Name:       fmt.Sprintf("%s-%d", id, i),
			CourseID:   id,
			CourseName: "Course " + id,
			CourseType: CourseOrdinary,
			ProgramID:  1,
			Semester:   3,
		})
	}
	return g
}

func buildRooms(t *testing.T, descs ...RoomDescriptor) []*Room {
	t.Helper()
	rooms, err := BuildRooms(descs)
	require.NoError(t, err)
	return rooms
}

func seatedKeys(r *Room) []string {
	var keys []string
	for _, e := range r.Exams {
		keys = append(keys, e.Key.String())
	}
	return keys
}

func requireHealthy(t *testing.T, res *Result) {
	t.Helper()
	require.Empty(t, CapacityMismatches(res.Rooms), "capacity invariant")
	require.Equal(t, res.TotalStudents, res.TotalAssignedSeats+res.TotalUnassigned, "conservation")
	require.Equal(t, res.Seats.Capacity, res.Seats.Occupied+res.Seats.Unoccupied)
}

func TestBuildRooms_OrdersByPriorityThenID(t *testing.T) {
	rooms := buildRooms(t,
		RoomDescriptor{ID: 9, Rows: 1, Cols: 1, Priority: 2},
		RoomDescriptor{ID: 4, Rows: 2, Cols: 3, Priority: 1, Description: "Hall B"},
		RoomDescriptor{ID: 2, Rows: 1, Cols: 1, Priority: 2},
	)

	require.Len(t, rooms, 3)
	assert.Equal(t, []int64{4, 2, 9}, []int64{rooms[0].ID, rooms[1].ID, rooms[2].ID})
	assert.Equal(t, "Hall B", rooms[0].Description)
	assert.Equal(t, 6, rooms[0].Unoccupied())
	assert.Empty(t, rooms[0].Exams)
	for _, row := range rooms[0].Seats {
		for _, seat := range row {
			assert.False(t, seat.Occupied)
		}
	}
}

func TestBuildRooms_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		descs []RoomDescriptor
		code  Code
	}{
		{"empty", nil, CodeNoRooms},
		{"zero rows", []RoomDescriptor{{ID: 1, Rows: 0, Cols: 3}}, CodeInvalidRoom},
		{"negative cols", []RoomDescriptor{{ID: 1, Rows: 2, Cols: -1}}, CodeInvalidRoom},
		{"duplicate id", []RoomDescriptor{{ID: 1, Rows: 1, Cols: 1}, {ID: 1, Rows: 2, Cols: 2}}, CodeInvalidRoom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rooms, err := BuildRooms(tt.descs)
			require.Error(t, err)
			assert.Nil(t, rooms)
			assert.True(t, Is(err, tt.code), "got %v", err)
		})
	}
}

func TestBuildRooms_FreshPerCall(t *testing.T) {
	descs := []RoomDescriptor{{ID: 1, Rows: 1, Cols: 2}}
	a := buildRooms(t, descs...)
	b := buildRooms(t, descs...)

	newTestAllocator(t).assign(a[0], []*Group{course("A", 1, 1)})

	assert.Equal(t, 1, a[0].Unoccupied())
	assert.Equal(t, 2, b[0].Unoccupied())
}

func TestRoom_OccupyVacateKeepsRoster(t *testing.T) {
	room := buildRooms(t, RoomDescriptor{ID: 1, Rows: 1, Cols: 3})[0]
	g := course("A", 2, 10)

	room.occupy(Position{0, 0}, g.Students[0])
	room.occupy(Position{0, 2}, g.Students[1])
	require.Len(t, room.Exams, 1)
	assert.Equal(t, []int64{10, 11}, room.Exams[0].StudentIDs)
	assert.Equal(t, 1, room.Unoccupied())

	s := room.vacate(Position{0, 0})
	assert.Equal(t, int64(10), s.ID)
	assert.Equal(t, []int64{11}, room.Exams[0].StudentIDs)
	assert.False(t, room.Seat(Position{0, 0}).Occupied)

	room.vacate(Position{0, 2})
	assert.Empty(t, room.Exams)
	assert.Equal(t, 3, room.Unoccupied())
	assert.Empty(t, CapacityMismatches([]*Room{room}))
}

func TestRoom_CloneIsIndependent(t *testing.T) {
	room := buildRooms(t, RoomDescriptor{ID: 1, Rows: 1, Cols: 3})[0]
	room.occupy(Position{0, 0}, course("A", 1, 1).Students[0])

	c := room.clone()
	c.occupy(Position{0, 2}, course("A", 1, 2).Students[0])
	c.vacate(Position{0, 0})

	assert.True(t, room.Seat(Position{0, 0}).Occupied)
	assert.False(t, room.Seat(Position{0, 2}).Occupied)
	assert.Equal(t, []int64{1}, room.Exams[0].StudentIDs)
	assert.Equal(t, 2, room.Unoccupied())
}

// A single course may fill every seat of a room it has to itself.
func TestAllocate_SingleCourseFillsRoom(t *testing.T) {
	rooms := buildRooms(t, RoomDescriptor{ID: 1, Rows: 3, Cols: 3})

	res, err := newTestAllocator(t).Allocate(rooms, []*Group{course("A", 9, 1)})
	require.NoError(t, err)

	requireHealthy(t, res)
	assert.Equal(t, 9, res.TotalStudents)
	assert.Equal(t, 9, res.TotalAssignedSeats)
	assert.Zero(t, res.TotalUnassigned)
	assert.Zero(t, rooms[0].Unoccupied())
	assert.Equal(t, 3, res.RelaxedSeats)
}

// With room to spare, a single course is spread out rather than packed.
func TestAllocate_SingleCourseSpreadsBeforeRelaxing(t *testing.T) {
	rooms := buildRooms(t,
		RoomDescriptor{ID: 1, Rows: 1, Cols: 4},
		RoomDescriptor{ID: 2, Rows: 1, Cols: 4},
	)

	res, err := newTestAllocator(t).Allocate(rooms, []*Group{course("A", 4, 1)})
	require.NoError(t, err)

	requireHealthy(t, res)
	assert.Zero(t, res.TotalUnassigned)
	assert.Zero(t, res.RelaxedSeats)
	for _, r := range rooms {
		assert.Empty(t, AdjacencyConflicts(r), "room %d", r.ID)
		got := ""
		for _, seat := range r.Seats[0] {
			if seat.Occupied {
				got += seat.CourseID
			} else {
				got += "."
			}
		}
		assert.Equal(t, "A.A.", got, "room %d", r.ID)
	}
}

func TestAllocate_SingleCourseStrictAdjacency(t *testing.T) {
	rooms := buildRooms(t, RoomDescriptor{ID: 1, Rows: 3, Cols: 3})
	a := newTestAllocator(t, func(o *Options) { o.RelaxSingleGroup = false })

	res, err := a.Allocate(rooms, []*Group{course("A", 9, 1)})
	require.NoError(t, err)

	requireHealthy(t, res)
	assert.Equal(t, 6, res.TotalAssignedSeats)
	assert.Equal(t, 3, res.TotalUnassigned)
	assert.Empty(t, AdjacencyConflicts(rooms[0]))
	for row := range 3 {
		assert.True(t, rooms[0].Seats[row][0].Occupied)
		assert.False(t, rooms[0].Seats[row][1].Occupied)
		assert.True(t, rooms[0].Seats[row][2].Occupied)
	}
}

func TestAllocate_TwoCoursesInterleave(t *testing.T) {
	rooms := buildRooms(t, RoomDescriptor{ID: 1, Rows: 2, Cols: 4})

	res, err := newTestAllocator(t).Allocate(rooms, []*Group{course("A", 4, 1), course("B", 4, 101)})
	require.NoError(t, err)

	requireHealthy(t, res)
	assert.Equal(t, 8, res.TotalAssignedSeats)
	assert.Zero(t, res.TotalUnassigned)
	assert.Empty(t, AdjacencyConflicts(rooms[0]))
	for row := range 2 {
		got := ""
		for col := range 4 {
			got += rooms[0].Seats[row][col].CourseID
		}
		assert.Equal(t, "ABAB", got, "row %d", row)
	}
}

func TestAllocate_NoSeatIsInvented(t *testing.T) {
	rooms := buildRooms(t, RoomDescriptor{ID: 1, Rows: 1, Cols: 2})
	groups := []*Group{course("C", 1, 3), course("A", 1, 1), course("B", 1, 2)}

	res, err := newTestAllocator(t).Allocate(rooms, groups)
	require.NoError(t, err)

	requireHealthy(t, res)
	assert.Equal(t, 3, res.TotalStudents)
	assert.Equal(t, 2, res.TotalAssignedSeats)
	require.Len(t, res.Unassigned, 1)
	assert.Equal(t, "C", res.Unassigned[0].CourseID)
	assert.Zero(t, res.OptimizerMoves)
}

// No free seat takes B, so A moves to the one seat B cannot use.
func TestOptimize_EvictsAndRelocates(t *testing.T) {
	rooms := buildRooms(t,
		RoomDescriptor{ID: 1, Rows: 1, Cols: 1, Priority: 1},
		RoomDescriptor{ID: 2, Rows: 1, Cols: 2, Priority: 2},
	)
	rooms[0].occupy(Position{0, 0}, course("A", 1, 1).Students[0])
	rooms[1].occupy(Position{0, 0}, course("B", 1, 51).Students[0])
	a := newTestAllocator(t)

	pending := []*Group{course("B", 1, 100)}
	moves := a.optimize(rooms, pending)

	assert.Equal(t, 1, moves)
	assert.Zero(t, pending[0].Len())
	assert.Equal(t, int64(100), rooms[0].Seats[0][0].StudentID)
	assert.Equal(t, int64(51), rooms[1].Seats[0][0].StudentID)
	assert.Equal(t, int64(1), rooms[1].Seats[0][1].StudentID)
	assert.Empty(t, CapacityMismatches(rooms))
	assert.Empty(t, FindDuplicates(rooms))
	for _, r := range rooms {
		assert.Empty(t, AdjacencyConflicts(r))
	}
	assert.Equal(t, SeatCount{Capacity: 3, Occupied: 3, Unoccupied: 0}, CountSeats(rooms))
}

func TestOptimize_KeepsSeatedStudentsWhenAFreeSeatFits(t *testing.T) {
	rooms := buildRooms(t,
		RoomDescriptor{ID: 1, Rows: 1, Cols: 2, Priority: 1},
		RoomDescriptor{ID: 2, Rows: 1, Cols: 1, Priority: 2},
		RoomDescriptor{ID: 3, Rows: 1, Cols: 1, Priority: 3},
	)
	rooms[0].occupy(Position{0, 0}, course("A", 1, 1).Students[0])
	rooms[1].occupy(Position{0, 0}, course("A", 1, 2).Students[0])
	a := newTestAllocator(t)

	pending := []*Group{course("B", 1, 100)}
	assert.Equal(t, 1, a.optimize(rooms, pending))

	assert.Equal(t, int64(1), rooms[0].Seats[0][0].StudentID)
	assert.Equal(t, int64(100), rooms[0].Seats[0][1].StudentID)
	assert.Equal(t, int64(2), rooms[1].Seats[0][0].StudentID)
	assert.False(t, rooms[2].Seats[0][0].Occupied)
}

func TestOptimize_RollsBackWhenEvictedCannotMove(t *testing.T) {
	rooms := buildRooms(t, RoomDescriptor{ID: 1, Rows: 1, Cols: 2})
	a := newTestAllocator(t)
	g := course("A", 2, 1)
	rooms[0].occupy(Position{0, 0}, g.Students[0])
	rooms[0].occupy(Position{0, 1}, g.Students[1])
	before := rooms[0].clone()

	pending := []*Group{course("B", 1, 100)}
	assert.Zero(t, a.optimize(rooms, pending))

	assert.Equal(t, 1, pending[0].Len())
	assert.Equal(t, before.Seats, rooms[0].Seats)
	assert.Equal(t, before.Unoccupied(), rooms[0].Unoccupied())
}

func TestAllocate_CarriesLeftoversToNextRoom(t *testing.T) {
	rooms := buildRooms(t,
		RoomDescriptor{ID: 2, Rows: 2, Cols: 2, Priority: 2},
		RoomDescriptor{ID: 1, Rows: 1, Cols: 4, Priority: 1},
	)

	res, err := newTestAllocator(t).Allocate(rooms, []*Group{course("B", 3, 101), course("A", 3, 1)})
	require.NoError(t, err)

	requireHealthy(t, res)
	assert.Zero(t, res.TotalUnassigned)
	require.Equal(t, int64(1), rooms[0].ID)
	assert.Equal(t, 4, rooms[0].Occupied())
	assert.Equal(t, 2, rooms[1].Occupied())
	assert.Equal(t, []string{"course:A", "course:B"}, seatedKeys(rooms[1]))
	assert.Empty(t, AdjacencyConflicts(rooms[0]))
	assert.Empty(t, AdjacencyConflicts(rooms[1]))
}

func TestAllocate_RetrySeatsGroupsBeyondFirstPass(t *testing.T) {
	rooms := buildRooms(t, RoomDescriptor{ID: 1, Rows: 2, Cols: 2})

	res, err := newTestAllocator(t).Allocate(rooms, []*Group{course("A", 3, 1), course("B", 1, 10), course("C", 1, 20)})
	require.NoError(t, err)

	requireHealthy(t, res)
	assert.Equal(t, 4, res.TotalAssignedSeats)
	assert.Equal(t, []string{"course:A", "course:B", "course:C"}, seatedKeys(rooms[0]))
	require.Len(t, res.Unassigned, 1)
	assert.Equal(t, "A", res.Unassigned[0].CourseID)
	assert.Empty(t, AdjacencyConflicts(rooms[0]))
}

func TestAllocate_CommonCourseSeparatesByProgram(t *testing.T) {
	students := []Student{
		{ID: 1, CourseID: "ENG1", CourseType: CourseCommon, ProgramID: 5},
		{ID: 2, CourseID: "ENG2", CourseType: CourseCommon, ProgramID: 5},
	}
	groups := GroupStudents(students)
	require.Len(t, groups, 1)
	assert.Equal(t, Key{Common: true, Program: 5}, groups[0].Key)

	rooms := buildRooms(t, RoomDescriptor{ID: 1, Rows: 1, Cols: 2})
	a := newTestAllocator(t, func(o *Options) { o.RelaxSingleGroup = false })
	res, err := a.Allocate(rooms, groups)
	require.NoError(t, err)

	assert.Equal(t, 1, res.TotalAssignedSeats)
	assert.Equal(t, 1, res.TotalUnassigned)
	require.Len(t, rooms[0].Exams, 1)
	assert.Equal(t, int64(5), rooms[0].Exams[0].ProgramID)
}

func TestAllocate_DuplicateStudent(t *testing.T) {
	groups := func() []*Group {
		a := course("A", 2, 1)
		b := course("B", 2, 100)
		b.Students[0].ID = a.Students[1].ID
		return []*Group{a, b}
	}

	t.Run("warn", func(t *testing.T) {
		rooms := buildRooms(t, RoomDescriptor{ID: 1, Rows: 1, Cols: 4})
		res, err := newTestAllocator(t).Allocate(rooms, groups())
		require.NoError(t, err)
		assert.Equal(t, []int64{2}, res.Duplicates)
	})

	t.Run("strict", func(t *testing.T) {
		rooms := buildRooms(t, RoomDescriptor{ID: 1, Rows: 1, Cols: 4})
		res, err := newTestAllocator(t, func(o *Options) { o.Strict = true }).Allocate(rooms, groups())
		require.Error(t, err)
		assert.True(t, Is(err, CodeDuplicateSeat))
		require.NotNil(t, res)
		assert.Equal(t, []int64{2}, res.Duplicates)
	})
}

func TestAllocate_RejectsBadInput(t *testing.T) {
	a := newTestAllocator(t)
	room := func() []*Room { return buildRooms(t, RoomDescriptor{ID: 1, Rows: 1, Cols: 1}) }

	_, err := a.Allocate(nil, []*Group{course("A", 1, 1)})
	assert.Equal(t, CodeNoRooms, GetCode(err))

	_, err = a.Allocate(room(), nil)
	assert.Equal(t, CodeNoStudents, GetCode(err))

	_, err = a.Allocate(room(), []*Group{{Key: Key{Course: "A"}}})
	assert.Equal(t, CodeNoStudents, GetCode(err))

	bad := course("A", 1, 1)
	bad.Key = Key{Course: "B"}
	_, err = a.Allocate(room(), []*Group{bad})
	assert.Equal(t, CodeInvalidGroup, GetCode(err))

	_, err = a.Allocate([]*Room{{ID: 3}}, []*Group{course("A", 1, 1)})
	assert.Equal(t, CodeInvalidRoom, GetCode(err))
}

func TestAllocate_LeavesInputGroupsUntouched(t *testing.T) {
	rooms := buildRooms(t, RoomDescriptor{ID: 1, Rows: 2, Cols: 2})
	g := course("A", 3, 1)

	_, err := newTestAllocator(t).Allocate(rooms, []*Group{g})
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())
}

func TestScanOrder_RowMajor(t *testing.T) {
	for _, tt := range []struct {
		order ScanOrder
		want  []Position
	}{
		{ColumnMajor, []Position{{0, 0}, {1, 0}}},
		{RowMajor, []Position{{0, 0}, {0, 2}}},
	} {
		t.Run(tt.order.String(), func(t *testing.T) {
			rooms := buildRooms(t, RoomDescriptor{ID: 1, Rows: 2, Cols: 3})
			_, err := newTestAllocator(t, func(o *Options) { o.Scan = tt.order }).Allocate(rooms, []*Group{course("A", 2, 1)})
			require.NoError(t, err)
			for _, p := range tt.want {
				assert.True(t, rooms[0].Seat(p).Occupied, "%v", p)
			}
		})
	}
}

func TestParseScanOrder(t *testing.T) {
	o, err := ParseScanOrder("row")
	require.NoError(t, err)
	assert.Equal(t, RowMajor, o)

	o, err = ParseScanOrder("")
	require.NoError(t, err)
	assert.Equal(t, ColumnMajor, o)

	_, err = ParseScanOrder("diagonal")
	assert.Error(t, err)
}

func TestCountSeats_Idempotent(t *testing.T) {
	rooms := buildRooms(t, RoomDescriptor{ID: 1, Rows: 2, Cols: 3}, RoomDescriptor{ID: 2, Rows: 1, Cols: 1})
	newTestAllocator(t).assign(rooms[0], []*Group{course("A", 2, 1), course("B", 2, 10)})

	first := CountSeats(rooms)
	assert.Equal(t, first, CountSeats(rooms))
	assert.Equal(t, SeatCount{Capacity: 7, Occupied: 4, Unoccupied: 3}, first)
}

func TestGroupStudents_LargestFirst(t *testing.T) {
	var students []Student
	students = append(students, course("B", 1, 1).Students...)
	students = append(students, course("A", 3, 10).Students...)
	students = append(students, course("C", 1, 20).Students...)

	groups := GroupStudents(students)

	require.Len(t, groups, 3)
	assert.Equal(t, "course:A", groups[0].Key.String())
	assert.Equal(t, "course:B", groups[1].Key.String())
	assert.Equal(t, "course:C", groups[2].Key.String())
	assert.Equal(t, []int64{10, 11, 12}, []int64{groups[0].Students[0].ID, groups[0].Students[1].ID, groups[0].Students[2].ID})
}

// Random sessions must keep every invariant, and the optimizer may only help.
func TestAllocate_InvariantsHoldOnRandomSessions(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := range 50 {
		var descs []RoomDescriptor
		for i := range 1 + rng.Intn(4) {
			descs = append(descs, RoomDescriptor{ID: int64(i + 1), Rows: 1 + rng.Intn(4), Cols: 1 + rng.Intn(5), Priority: rng.Intn(3)})
		}
		var groups []*Group
		next := int64(1)
		for i := range 1 + rng.Intn(5) {
			n := 1 + rng.Intn(8)
			groups = append(groups, course(fmt.Sprintf("C%d", i), n, next))
			next += int64(n)
		}

		strict := func(o *Options) { o.RelaxSingleGroup = false }
		skip := func(o *Options) { o.SkipOptimize = true }

		rooms, err := BuildRooms(descs)
		require.NoError(t, err)
		res, err := newTestAllocator(t, strict).Allocate(rooms, groups)
		require.NoError(t, err)

		baseRooms, err := BuildRooms(descs)
		require.NoError(t, err)
		base, err := newTestAllocator(t, strict, skip).Allocate(baseRooms, groups)
		require.NoError(t, err)

		requireHealthy(t, res)
		requireHealthy(t, base)
		assert.LessOrEqual(t, res.TotalUnassigned, base.TotalUnassigned, "run %d", run)
		assert.Empty(t, res.Duplicates, "run %d", run)
		for _, r := range res.Rooms {
			assert.Empty(t, AdjacencyConflicts(r), "run %d room %d", run, r.ID)
		}

		// Default options only put a key next to itself when strict seating
		// left someone out.
		relaxedRooms, err := BuildRooms(descs)
		require.NoError(t, err)
		relaxed, err := newTestAllocator(t).Allocate(relaxedRooms, groups)
		require.NoError(t, err)

		requireHealthy(t, relaxed)
		assert.LessOrEqual(t, relaxed.TotalUnassigned, res.TotalUnassigned, "run %d", run)
		assert.Equal(t, res.TotalUnassigned-relaxed.TotalUnassigned, relaxed.RelaxedSeats, "run %d", run)
		conflicts := 0
		for _, r := range relaxed.Rooms {
			conflicts += len(AdjacencyConflicts(r))
		}
		if res.TotalUnassigned == 0 {
			assert.Zero(t, conflicts, "run %d", run)
			assert.Zero(t, relaxed.RelaxedSeats, "run %d", run)
		}
		if relaxed.RelaxedSeats == 0 {
			assert.Zero(t, conflicts, "run %d", run)
		}
	}
}
