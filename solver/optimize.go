package solver

// move is a set of rooms, by index, that replace the current ones when the
// move is committed. Every room in a move is a private clone, so an abandoned
// move leaves no trace.
type move map[int]*Room

func (m move) commit(rooms []*Room) {
	for i, r := range m {
		*rooms[i] = *r
	}
}

// optimize tries to seat the students left in pending, one move at a time. A
// free seat that accepts the student is taken first; only when there is none
// is a seated student of another key moved to open one. It returns the number
// of students it seated.
func (a *Allocator) optimize(rooms []*Room, pending []*Group) int {
	moves := 0
	for _, g := range pending {
		for g.Len() > 0 {
			s := g.Students[0]
			m, ok := a.direct(rooms, s)
			if !ok {
				m, ok = a.evict(rooms, s)
			}
			if !ok {
				break
			}
			m.commit(rooms)
			g.Students = g.Students[1:]
			moves++
		}
	}
	return moves
}

// evict looks for a seat held by a student of another key whose occupant can
// be moved to a free seat somewhere, such that s can take a seat in the room
// that was freed.
func (a *Allocator) evict(rooms []*Room, s Student) (move, bool) {
	key := s.Key()
	for ri, room := range rooms {
		var found move
		a.opts.Scan.each(room.Rows, room.Cols, func(p Position) bool {
			seat := room.Seat(p)
			if !seat.Occupied || seat.Key() == key {
				return true
			}
			trial := room.clone()
			evicted := trial.vacate(p)
			if !a.placeOne(trial, s) {
				return true
			}
			ti, target, ok := a.relocate(rooms, ri, trial, evicted)
			if !ok {
				return true
			}
			found = move{ri: trial}
			found[ti] = target
			a.log.Debug("evicting", "room", room.ID, "row", p.Row, "col", p.Col, "evicted", evicted.ID, "seated", s.ID, "to", rooms[ti].ID)
			return false
		})
		if found != nil {
			return found, true
		}
	}
	return nil, false
}

// relocate seats s in the first room with a free seat that accepts it. The
// trial clone stands in for rooms[ri].
func (a *Allocator) relocate(rooms []*Room, ri int, trial *Room, s Student) (int, *Room, bool) {
	for ti, r := range rooms {
		if ti == ri {
			r = trial
		}
		if r.Unoccupied() == 0 {
			continue
		}
		c := r.clone()
		if a.placeOne(c, s) {
			return ti, c, true
		}
	}
	return 0, nil, false
}

func (a *Allocator) direct(rooms []*Room, s Student) (move, bool) {
	for i, r := range rooms {
		if r.Unoccupied() == 0 {
			continue
		}
		c := r.clone()
		if a.placeOne(c, s) {
			return move{i: c}, true
		}
	}
	return nil, false
}
