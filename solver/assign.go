package solver

// maxPasses caps the assigner at its first pass plus one retry.
const maxPasses = 2

// assign seats as many students of groups as fit into room. Seated students are
// removed from the front of their group; whatever is left stays queued.
func (a *Allocator) assign(room *Room, groups []*Group) {
	active := nonEmpty(groups)
	for pass := range maxPasses {
		if len(active) == 0 || room.Unoccupied() == 0 {
			return
		}
		extra := a.pass(room, active)
		if extra == 0 {
			return
		}
		active = nonEmpty(active)
		if pass == 0 && len(active) > 0 && room.Unoccupied() > 0 {
			a.log.Debug("retrying room", "room", room.ID, "free", room.Unoccupied(), "groups", len(active))
		}
	}
}

// pass runs one balanced round over groups and returns the seats that were
// budgeted but not filled.
func (a *Allocator) pass(room *Room, groups []*Group) int {
	numExams := min(room.Cols, len(groups))
	capacity := room.Unoccupied()
	perGroup := capacity / numExams
	extra := capacity - perGroup*numExams

	for _, g := range groups[:numExams] {
		want := perGroup + extra
		quota := min(want, g.Len())
		extra = want - quota

		placed := 0
		for placed < quota {
			// Students of one group share a key, so once one finds no seat the
			// rest of this round would not either.
			p, ok := a.opts.Scan.find(room.Rows, room.Cols, func(p Position) bool {
				return room.canSeat(p, g.Key, false)
			})
			if !ok {
				break
			}
			room.occupy(p, g.Students[0])
			g.Students = g.Students[1:]
			placed++
		}
		extra += quota - placed
	}
	return extra
}

// placeOne runs the assigner for a single student in a single room.
func (a *Allocator) placeOne(room *Room, s Student) bool {
	g := &Group{Key: s.Key(), Students: []Student{s}}
	a.assign(room, []*Group{g})
	return g.Len() == 0
}

// settle seats whoever the strict phases left over next to students of their
// own key, in rooms whose roster holds no other key. It returns the number of
// students seated.
func (a *Allocator) settle(rooms []*Room, pending []*Group) int {
	seated := 0
	for _, g := range pending {
		for _, room := range rooms {
			if g.Len() == 0 {
				break
			}
			if room.Unoccupied() == 0 || !room.onlyKey(g.Key) {
				continue
			}
			for g.Len() > 0 {
				p, ok := a.opts.Scan.find(room.Rows, room.Cols, func(p Position) bool {
					return room.canSeat(p, g.Key, true)
				})
				if !ok {
					break
				}
				room.occupy(p, g.Students[0])
				g.Students = g.Students[1:]
				seated++
			}
			a.log.Debug("settled side by side", "room", room.ID, "key", g.Key.String(), "pending", g.Len())
		}
	}
	return seated
}

func nonEmpty(groups []*Group) []*Group {
	out := make([]*Group, 0, len(groups))
	for _, g := range groups {
		if g.Len() > 0 {
			out = append(out, g)
		}
	}
	return out
}
