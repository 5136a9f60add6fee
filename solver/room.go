package solver

import (
	"cmp"
	"slices"
)

// RoomDescriptor is the capacity record a room grid is built from.
type RoomDescriptor struct {
	ID          int64  `json:"id"`
	Description string `json:"description,omitempty"`
	Rows        int    `json:"rows"`
	Cols        int    `json:"cols"`
	Priority    int    `json:"priority"`
}

type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

type Seat struct {
	Row        int
	Col        int
	Occupied   bool
	StudentID  int64
	CourseID   string
	ProgramID  int64
	Semester   int
	CourseType CourseType

	student Student
}

func (s *Seat) Key() Key { return s.student.Key() }

// Student returns the record of the seated student. The zero Student is
// returned for a free seat.
func (s *Seat) Student() Student { return s.student }

// Exam is one roster entry of a room: every student seated for the same
// allocation key, in seating order.
type Exam struct {
	Key         Key
	CourseID    string
	CourseName  string
	CourseType  CourseType
	ProgramID   int64
	ProgramName string
	Semester    int
	StudentIDs  []int64
}

type Room struct {
	ID          int64
	Description string
	Priority    int
	Rows        int
	Cols        int
	Seats       [][]Seat
	Exams       []*Exam

	unoccupied int
}

// BuildRooms turns descriptors into empty seat grids ordered by priority, then
// id. Each call returns fresh rooms; nothing is shared between calls.
func BuildRooms(descs []RoomDescriptor) ([]*Room, error) {
	if len(descs) == 0 {
		return nil, New(CodeNoRooms, "no rooms to allocate into")
	}
	seen := map[int64]bool{}
	rooms := make([]*Room, 0, len(descs))
	for _, d := range descs {
		if d.Rows <= 0 || d.Cols <= 0 {
			return nil, New(CodeInvalidRoom, "room %d has invalid dimensions %dx%d", d.ID, d.Rows, d.Cols)
		}
		if seen[d.ID] {
			return nil, New(CodeInvalidRoom, "room %d listed twice", d.ID)
		}
		seen[d.ID] = true
		rooms = append(rooms, newRoom(d))
	}
	slices.SortStableFunc(rooms, func(a, b *Room) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return rooms, nil
}

func newRoom(d RoomDescriptor) *Room {
	r := &Room{
		ID:          d.ID,
		Description: d.Description,
		Priority:    d.Priority,
		Rows:        d.Rows,
		Cols:        d.Cols,
		Seats:       make([][]Seat, d.Rows),
		unoccupied:  d.Rows * d.Cols,
	}
	for row := range d.Rows {
		r.Seats[row] = make([]Seat, d.Cols)
		for col := range d.Cols {
			r.Seats[row][col] = Seat{Row: row, Col: col}
		}
	}
	return r
}

func (r *Room) Capacity() int { return r.Rows * r.Cols }

func (r *Room) Unoccupied() int { return r.unoccupied }

func (r *Room) Occupied() int { return r.Capacity() - r.unoccupied }

func (r *Room) Seat(p Position) *Seat { return &r.Seats[p.Row][p.Col] }

// canSeat reports whether key may sit at p: the seat is free and neither
// horizontal neighbour holds the same key. relaxed skips the neighbour check.
func (r *Room) canSeat(p Position, key Key, relaxed bool) bool {
	if r.Seats[p.Row][p.Col].Occupied {
		return false
	}
	if relaxed {
		return true
	}
	row := r.Seats[p.Row]
	if p.Col > 0 && row[p.Col-1].Occupied && row[p.Col-1].Key() == key {
		return false
	}
	if p.Col+1 < r.Cols && row[p.Col+1].Occupied && row[p.Col+1].Key() == key {
		return false
	}
	return true
}

func (r *Room) occupy(p Position, s Student) {
	seat := &r.Seats[p.Row][p.Col]
	seat.Occupied = true
	seat.StudentID = s.ID
	seat.CourseID = s.CourseID
	seat.ProgramID = s.ProgramID
	seat.Semester = s.Semester
	seat.CourseType = s.CourseType
	seat.student = s
	r.unoccupied--

	exam := r.exam(s.Key())
	if exam == nil {
		exam = &Exam{
			Key:         s.Key(),
			CourseID:    s.CourseID,
			CourseName:  s.CourseName,
			CourseType:  s.CourseType,
			ProgramID:   s.ProgramID,
			ProgramName: s.ProgramName,
			Semester:    s.Semester,
		}
		r.Exams = append(r.Exams, exam)
	}
	exam.StudentIDs = append(exam.StudentIDs, s.ID)
}

// vacate frees the seat at p and drops its student from the roster.
func (r *Room) vacate(p Position) Student {
	seat := &r.Seats[p.Row][p.Col]
	s := seat.student
	*seat = Seat{Row: p.Row, Col: p.Col}
	r.unoccupied++

	for i, exam := range r.Exams {
		if exam.Key != s.Key() {
			continue
		}
		if j := slices.Index(exam.StudentIDs, s.ID); j >= 0 {
			exam.StudentIDs = slices.Delete(exam.StudentIDs, j, j+1)
		}
		if len(exam.StudentIDs) == 0 {
			r.Exams = slices.Delete(r.Exams, i, i+1)
		}
		break
	}
	return s
}

func (r *Room) exam(k Key) *Exam {
	for _, e := range r.Exams {
		if e.Key == k {
			return e
		}
	}
	return nil
}

// onlyKey reports whether the roster holds no key other than k.
func (r *Room) onlyKey(k Key) bool {
	for _, e := range r.Exams {
		if e.Key != k {
			return false
		}
	}
	return true
}

func (r *Room) clone() *Room {
	c := *r
	c.Seats = make([][]Seat, r.Rows)
	for row := range r.Rows {
		c.Seats[row] = slices.Clone(r.Seats[row])
	}
	c.Exams = make([]*Exam, len(r.Exams))
	for i, e := range r.Exams {
		ec := *e
		ec.StudentIDs = slices.Clone(e.StudentIDs)
		c.Exams[i] = &ec
	}
	return &c
}
