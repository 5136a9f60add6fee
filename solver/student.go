package solver

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
)

type CourseType string

const (
	CourseOrdinary CourseType = "ordinary"
	// CourseCommon courses are shared across programs; students are kept apart
	// by program instead of by course.
	CourseCommon CourseType = "common"
)

type Student struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	CourseID    string     `json:"course_id"`
	CourseName  string     `json:"course_name"`
	CourseType  CourseType `json:"course_type"`
	ProgramID   int64      `json:"program_id"`
	ProgramName string     `json:"program_name"`
	Semester    int        `json:"semester"`
}

// Key is the allocation key two neighbouring seats must not share.
type Key struct {
	Common  bool
	Course  string
	Program int64
}

func (s Student) Key() Key {
	if s.CourseType == CourseCommon {
		return Key{Common: true, Program: s.ProgramID}
	}
	return Key{Course: s.CourseID}
}

func (k Key) String() string {
	if k.Common {
		return "program:" + strconv.FormatInt(k.Program, 10)
	}
	return "course:" + k.Course
}

func compareKeys(a, b Key) int {
	if a.Common != b.Common {
		if a.Common {
			return 1
		}
		return -1
	}
	if c := cmp.Compare(a.Course, b.Course); c != 0 {
		return c
	}
	return cmp.Compare(a.Program, b.Program)
}

// Group is a queue of students sharing one allocation key. Students are taken
// from the front as they are seated.
type Group struct {
	Key      Key
	Students []Student
}

func (g *Group) Len() int { return len(g.Students) }

func (g *Group) clone() *Group {
	return &Group{Key: g.Key, Students: slices.Clone(g.Students)}
}

func (g *Group) validate() error {
	for _, s := range g.Students {
		if s.Key() != g.Key {
			return New(CodeInvalidGroup, "student %d has key %s in group %s", s.ID, s.Key(), g.Key)
		}
	}
	return nil
}

// GroupStudents partitions student records by allocation key, keeping the
// input order inside each group. Groups come back largest first.
func GroupStudents(students []Student) []*Group {
	byKey := map[Key]*Group{}
	var groups []*Group
	for _, s := range students {
		k := s.Key()
		g, ok := byKey[k]
		if !ok {
			g = &Group{Key: k}
			byKey[k] = g
			groups = append(groups, g)
		}
		g.Students = append(g.Students, s)
	}
	sortGroups(groups)
	return groups
}

func sortGroups(groups []*Group) {
	slices.SortStableFunc(groups, func(a, b *Group) int {
		if c := cmp.Compare(b.Len(), a.Len()); c != 0 {
			return c
		}
		return compareKeys(a.Key, b.Key)
	})
}

func countStudents(groups []*Group) int {
	n := 0
	for _, g := range groups {
		n += g.Len()
	}
	return n
}

func (g *Group) String() string {
	return fmt.Sprintf("%s(%d)", g.Key, g.Len())
}
