package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"seating/cache"
	"seating/queue"
	"seating/solver"
)

type seatingPlan struct {
	RunID      string           `json:"run_id"`
	Date       string           `json:"date"`
	TimeCode   string           `json:"time_code"`
	Students   int              `json:"students"`
	Seated     int              `json:"seated"`
	Unassigned []solver.Student `json:"unassigned"`
	Duplicates []int64          `json:"duplicates,omitempty"`
	Rooms      []roomPlan       `json:"rooms"`
}

type roomPlan struct {
	ID          int64      `json:"id"`
	Description string     `json:"description"`
	Rows        int        `json:"rows"`
	Cols        int        `json:"cols"`
	Occupied    int        `json:"occupied"`
	Exams       []examPlan `json:"exams"`
	Seats       []seatPlan `json:"seats"`
}

type examPlan struct {
	CourseID    string  `json:"course_id"`
	CourseName  string  `json:"course_name"`
	CourseType  string  `json:"course_type"`
	ProgramID   int64   `json:"program_id,omitempty"`
	ProgramName string  `json:"program_name,omitempty"`
	StudentIDs  []int64 `json:"student_ids"`
}

type seatPlan struct {
	Row       int    `json:"row"`
	Col       int    `json:"col"`
	StudentID int64  `json:"student_id"`
	CourseID  string `json:"course_id"`
}

func newPlan(runID, date, timeCode string, res *solver.Result) seatingPlan {
	p := seatingPlan{
		RunID:      runID,
		Date:       date,
		TimeCode:   timeCode,
		Students:   res.TotalStudents,
		Seated:     res.TotalAssignedSeats,
		Unassigned: res.Unassigned,
		Duplicates: res.Duplicates,
		Rooms:      []roomPlan{},
	}
	if p.Unassigned == nil {
		p.Unassigned = []solver.Student{}
	}
	for _, r := range res.Rooms {
		if r.Occupied() == 0 {
			continue
		}
		rp := roomPlan{ID: r.ID, Description: r.Description, Rows: r.Rows, Cols: r.Cols, Occupied: r.Occupied()}
		for _, e := range r.Exams {
			ep := examPlan{CourseID: e.CourseID, CourseName: e.CourseName, CourseType: string(e.CourseType), StudentIDs: e.StudentIDs}
			if e.Key.Common {
				ep.ProgramID, ep.ProgramName = e.ProgramID, e.ProgramName
			}
			rp.Exams = append(rp.Exams, ep)
		}
		for _, row := range r.Seats {
			for _, seat := range row {
				if seat.Occupied {
					rp.Seats = append(rp.Seats, seatPlan{Row: seat.Row, Col: seat.Col, StudentID: seat.StudentID, CourseID: seat.CourseID})
				}
			}
		}
		p.Rooms = append(p.Rooms, rp)
	}
	return p
}

func (p seatingPlan) event(now time.Time) queue.SeatingCompleted {
	ev := queue.SeatingCompleted{
		RunID:       p.RunID,
		Date:        p.Date,
		TimeCode:    p.TimeCode,
		Students:    p.Students,
		Seated:      p.Seated,
		Unassigned:  []int64{},
		Duplicates:  p.Duplicates,
		CompletedAt: now.UTC(),
	}
	for _, s := range p.Unassigned {
		ev.Unassigned = append(ev.Unassigned, s.ID)
	}
	for _, r := range p.Rooms {
		ev.Rooms = append(ev.Rooms, queue.RoomUsage{RoomID: r.ID, Occupied: r.Occupied, Capacity: r.Rows * r.Cols})
	}
	return ev
}

// errorStatus maps a rejected run to an HTTP status.
func errorStatus(err error) int {
	switch solver.GetCode(err) {
	case solver.CodeInvalidRoom, solver.CodeNoRooms, solver.CodeNoStudents, solver.CodeInvalidGroup:
		return http.StatusBadRequest
	case solver.CodeDuplicateSeat:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func sessionParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	date := r.PathValue("date")
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
		return "", "", false
	}
	timeCode := strings.ToUpper(strings.TrimSpace(r.PathValue("timeCode")))
	if timeCode == "" {
		http.Error(w, "invalid time code", http.StatusBadRequest)
		return "", "", false
	}
	return date, timeCode, true
}

func (s *server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	descs, err := loadRooms(r.Context(), s.db, false)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if descs == nil {
		descs = []solver.RoomDescriptor{}
	}
	writeJSON(w, descs)
}

func (s *server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	var body solver.RoomDescriptor
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Rows <= 0 || body.Cols <= 0 {
		http.Error(w, "rows and cols must be positive", http.StatusBadRequest)
		return
	}
	err := s.db.QueryRowContext(r.Context(),
		"INSERT INTO rooms (description, seat_rows, seat_cols, priority) VALUES ($1, $2, $3, $4) RETURNING id",
		body.Description, body.Rows, body.Cols, body.Priority).Scan(&body.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, body)
}

func (s *server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	roomID, err := strconv.ParseInt(r.PathValue("roomID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid room ID", http.StatusBadRequest)
		return
	}
	result, err := s.db.ExecContext(r.Context(), "UPDATE rooms SET active = FALSE WHERE id = $1 AND active", roomID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleImportStudents upserts students with their programs, courses and
// course registrations.
func (s *server) handleImportStudents(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	var body []solver.Student
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body) == 0 {
		http.Error(w, "a non-empty list of students is required", http.StatusBadRequest)
		return
	}
	for _, st := range body {
		if st.ID == 0 || st.CourseID == "" || st.ProgramID == 0 {
			http.Error(w, "every student needs id, course_id and program_id", http.StatusBadRequest)
			return
		}
		if st.CourseType != "" && st.CourseType != solver.CourseOrdinary && st.CourseType != solver.CourseCommon {
			http.Error(w, "course_type must be ordinary or common", http.StatusBadRequest)
			return
		}
	}

	tx, err := s.db.BeginTx(r.Context(), nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	for _, st := range body {
		courseType := st.CourseType
		if courseType == "" {
			courseType = solver.CourseOrdinary
		}
		stmts := []struct {
			query string
			args  []any
		}{
			{`INSERT INTO programs (id, name) VALUES ($1, $2)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, []any{st.ProgramID, st.ProgramName}},
			{`INSERT INTO courses (id, name, course_type, semester) VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, course_type = EXCLUDED.course_type`, []any{st.CourseID, st.CourseName, string(courseType), st.Semester}},
			{`INSERT INTO students (id, name, program_id, semester) VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, program_id = EXCLUDED.program_id, semester = EXCLUDED.semester`, []any{st.ID, st.Name, st.ProgramID, st.Semester}},
			{`INSERT INTO student_courses (student_id, course_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING`, []any{st.ID, st.CourseID}},
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(r.Context(), stmt.query, stmt.args...); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
	}
	if err := tx.Commit(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int{"imported": len(body)})
}

type timetableEntry struct {
	CourseID string `json:"course_id"`
	Date     string `json:"date"`
	TimeCode string `json:"time_code"`
}

func (s *server) handleAddTimetable(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	var body []timetableEntry
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body) == 0 {
		http.Error(w, "a non-empty list of timetable entries is required", http.StatusBadRequest)
		return
	}
	for i := range body {
		e := &body[i]
		e.TimeCode = strings.ToUpper(strings.TrimSpace(e.TimeCode))
		if _, err := time.Parse(time.DateOnly, e.Date); err != nil || e.CourseID == "" || e.TimeCode == "" {
			http.Error(w, "every entry needs course_id, date (YYYY-MM-DD) and time_code", http.StatusBadRequest)
			return
		}
	}

	tx, err := s.db.BeginTx(r.Context(), nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	for _, e := range body {
		_, err := tx.ExecContext(r.Context(), `
			INSERT INTO timetable (course_id, date_of_exam, time_code) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`, e.CourseID, e.Date, e.TimeCode)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.cache.Delete(r.Context(), cache.SessionKey(e.Date, e.TimeCode)); err != nil {
			s.log.Warn("failed to drop cached plan", "date", e.Date, "time_code", e.TimeCode, "err", err)
		}
	}
	if err := tx.Commit(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int{"added": len(body)})
}

func (s *server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	date, timeCode, ok := sessionParams(w, r)
	if !ok {
		return
	}
	var courseIDs []string
	if v := r.URL.Query().Get("courses"); v != "" {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				courseIDs = append(courseIDs, c)
			}
		}
	}

	descs, err := loadRooms(r.Context(), s.db, true)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	students, err := loadSessionStudents(r.Context(), s.db, date, timeCode, courseIDs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rooms, err := solver.BuildRooms(descs)
	if err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	res, err := s.allocator.Allocate(rooms, solver.GroupStudents(students))
	if err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}

	runID := uuid.New()
	if err := saveSeats(r.Context(), s.db, runID, date, timeCode, res.Rooms); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	plan := newPlan(runID.String(), date, timeCode, res)
	s.log.Info("seating stored", "run", plan.RunID, "date", date, "time_code", timeCode,
		"students", plan.Students, "seated", plan.Seated, "unassigned", len(plan.Unassigned))

	s.cachePlan(r.Context(), cache.SessionKey(date, timeCode), plan)
	if err := s.publisher.PublishSeatingCompleted(r.Context(), plan.event(time.Now())); err != nil {
		s.log.Warn("failed to publish seating event", "run", plan.RunID, "err", err)
	}

	writeJSON(w, plan)
}

func (s *server) handleGetSeating(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	date, timeCode, ok := sessionParams(w, r)
	if !ok {
		return
	}
	key := cache.SessionKey(date, timeCode)

	if data, hit, err := s.cache.Get(r.Context(), key); err != nil {
		s.log.Warn("plan cache read failed", "key", key, "err", err)
	} else if hit {
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
		return
	}

	plan, err := loadPlan(r.Context(), s.db, date, timeCode)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "no seating for this session", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.cachePlan(r.Context(), key, plan)
	writeJSON(w, plan)
}

// cachePlan stores plan under key. A failure is logged and the plan is still
// served.
func (s *server) cachePlan(ctx context.Context, key string, plan seatingPlan) {
	data, err := json.Marshal(plan)
	if err == nil {
		err = s.cache.Set(ctx, key, data, s.cfg.CacheTTL())
	}
	if err != nil {
		s.log.Warn("failed to cache plan", "key", key, "run", plan.RunID, "err", err)
	}
}

func loadRooms(ctx context.Context, db *sql.DB, activeOnly bool) ([]solver.RoomDescriptor, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, description, seat_rows, seat_cols, priority
		FROM rooms
		WHERE active OR NOT $1
		ORDER BY priority, id`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var descs []solver.RoomDescriptor
	for rows.Next() {
		var d solver.RoomDescriptor
		if err := rows.Scan(&d.ID, &d.Description, &d.Rows, &d.Cols, &d.Priority); err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return descs, rows.Err()
}

// loadSessionStudents returns one record per (student, course) sitting in the
// session. A nil courseIDs means every course on the timetable.
func loadSessionStudents(ctx context.Context, db *sql.DB, date, timeCode string, courseIDs []string) ([]solver.Student, error) {
	var filter any
	if len(courseIDs) > 0 {
		filter = pq.Array(courseIDs)
	}
	rows, err := db.QueryContext(ctx, `
		SELECT s.id, s.name, c.id, c.name, c.course_type, p.id, p.name, s.semester
		FROM timetable t
		JOIN courses c ON c.id = t.course_id
		JOIN student_courses sc ON sc.course_id = c.id
		JOIN students s ON s.id = sc.student_id
		JOIN programs p ON p.id = s.program_id
		WHERE t.date_of_exam = $1 AND t.time_code = $2
			AND ($3::text[] IS NULL OR c.id = ANY($3::text[]))
		ORDER BY c.id, s.id`, date, timeCode, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []solver.Student
	for rows.Next() {
		var st solver.Student
		var courseType string
		if err := rows.Scan(&st.ID, &st.Name, &st.CourseID, &st.CourseName, &courseType, &st.ProgramID, &st.ProgramName, &st.Semester); err != nil {
			return nil, err
		}
		st.CourseType = solver.CourseType(courseType)
		students = append(students, st)
	}
	return students, rows.Err()
}

// saveSeats replaces the stored seating of a session with the seats of rooms.
func saveSeats(ctx context.Context, db *sql.DB, runID uuid.UUID, date, timeCode string, rooms []*solver.Room) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM seat_assignments WHERE date_of_exam = $1 AND time_code = $2", date, timeCode); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("seat_assignments",
		"run_id", "date_of_exam", "time_code", "room_id", "seat_row", "seat_col", "student_id", "course_id"))
	if err != nil {
		return err
	}
	for _, r := range rooms {
		for _, row := range r.Seats {
			for _, seat := range row {
				if !seat.Occupied {
					continue
				}
				if _, err := stmt.ExecContext(ctx, runID.String(), date, timeCode, r.ID, seat.Row, seat.Col, seat.StudentID, seat.CourseID); err != nil {
					stmt.Close()
					return err
				}
			}
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return err
	}
	if err := stmt.Close(); err != nil {
		return err
	}
	return tx.Commit()
}

// loadPlan rebuilds a plan from stored seats. Unassigned students are not
// stored, so a rebuilt plan reports none.
func loadPlan(ctx context.Context, db *sql.DB, date, timeCode string) (seatingPlan, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sa.run_id, r.id, r.description, r.seat_rows, r.seat_cols,
			sa.seat_row, sa.seat_col, sa.student_id, c.id, c.name, c.course_type, p.id, p.name
		FROM seat_assignments sa
		JOIN rooms r ON r.id = sa.room_id
		JOIN students s ON s.id = sa.student_id
		JOIN programs p ON p.id = s.program_id
		JOIN courses c ON c.id = sa.course_id
		WHERE sa.date_of_exam = $1 AND sa.time_code = $2
		ORDER BY r.priority, r.id, sa.seat_col, sa.seat_row`, date, timeCode)
	if err != nil {
		return seatingPlan{}, err
	}
	defer rows.Close()

	plan := seatingPlan{Date: date, TimeCode: timeCode, Unassigned: []solver.Student{}, Rooms: []roomPlan{}}
	type examKey struct {
		room int64
		key  solver.Key
	}
	exams := map[examKey]int{}
	for rows.Next() {
		var rp roomPlan
		var sp seatPlan
		var courseName, courseType, programName string
		var programID int64
		if err := rows.Scan(&plan.RunID, &rp.ID, &rp.Description, &rp.Rows, &rp.Cols,
			&sp.Row, &sp.Col, &sp.StudentID, &sp.CourseID, &courseName, &courseType, &programID, &programName); err != nil {
			return seatingPlan{}, err
		}
		if n := len(plan.Rooms); n == 0 || plan.Rooms[n-1].ID != rp.ID {
			plan.Rooms = append(plan.Rooms, rp)
		}
		room := &plan.Rooms[len(plan.Rooms)-1]
		room.Seats = append(room.Seats, sp)
		room.Occupied++
		plan.Students++
		plan.Seated++

		st := solver.Student{CourseID: sp.CourseID, CourseType: solver.CourseType(courseType), ProgramID: programID}
		ek := examKey{room.ID, st.Key()}
		i, ok := exams[ek]
		if !ok {
			ep := examPlan{CourseID: sp.CourseID, CourseName: courseName, CourseType: courseType}
			if ek.key.Common {
				ep.ProgramID, ep.ProgramName = programID, programName
			}
			room.Exams = append(room.Exams, ep)
			i = len(room.Exams) - 1
			exams[ek] = i
		}
		room.Exams[i].StudentIDs = append(room.Exams[i].StudentIDs, sp.StudentID)
	}
	if err := rows.Err(); err != nil {
		return seatingPlan{}, err
	}
	if len(plan.Rooms) == 0 {
		return seatingPlan{}, sql.ErrNoRows
	}
	return plan, nil
}
