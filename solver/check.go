package solver

import "slices"

type SeatCount struct {
	Capacity   int `json:"capacity"`
	Occupied   int `json:"occupied"`
	Unoccupied int `json:"unoccupied"`
}

// CountSeats tallies seats by walking every grid rather than trusting the
// cached per-room counters.
func CountSeats(rooms []*Room) SeatCount {
	var c SeatCount
	for _, r := range rooms {
		for _, row := range r.Seats {
			for _, seat := range row {
				c.Capacity++
				if seat.Occupied {
					c.Occupied++
				} else {
					c.Unoccupied++
				}
			}
		}
	}
	return c
}

// FindDuplicates returns, in ascending order, every student id that appears
// more than once across the rosters of rooms.
func FindDuplicates(rooms []*Room) []int64 {
	seen := map[int64]int{}
	for _, r := range rooms {
		for _, e := range r.Exams {
			for _, id := range e.StudentIDs {
				seen[id]++
			}
		}
	}
	var dups []int64
	for id, n := range seen {
		if n > 1 {
			dups = append(dups, id)
		}
	}
	slices.Sort(dups)
	return dups
}

// CapacityMismatches returns the ids of rooms whose cached free-seat counter
// or roster disagrees with the grid.
func CapacityMismatches(rooms []*Room) []int64 {
	var bad []int64
	for _, r := range rooms {
		occupied := 0
		for _, row := range r.Seats {
			for _, seat := range row {
				if seat.Occupied {
					occupied++
				}
			}
		}
		rostered := 0
		for _, e := range r.Exams {
			rostered += len(e.StudentIDs)
		}
		if occupied+r.unoccupied != r.Capacity() || rostered != occupied {
			bad = append(bad, r.ID)
		}
	}
	return bad
}

// AdjacencyConflicts returns every pair of horizontally adjacent occupied
// seats in room that share an allocation key.
func AdjacencyConflicts(room *Room) [][2]Position {
	var out [][2]Position
	for r, row := range room.Seats {
		for c := 1; c < len(row); c++ {
			if row[c-1].Occupied && row[c].Occupied && row[c-1].Key() == row[c].Key() {
				out = append(out, [2]Position{{r, c - 1}, {r, c}})
			}
		}
	}
	return out
}
