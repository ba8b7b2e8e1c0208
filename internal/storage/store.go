package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"educheck/internal/calendar"
	"educheck/internal/school"
	logx "educheck/pkg/logx"
)

const maxDetailLen = 255

// Store holds the roster (read side), both ledgers and the class-day row.
//
// The ledgers rely on UNIQUE(student_id, day): inserts never check first,
// they insert-or-ignore and report whether this call won the slot.
type Store struct {
	db      *sql.DB
	dialect dialect
	log     logx.Logger
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return s.db.PingContext(ctx)
}

// q rebinds '?' placeholders for the active dialect.
func (s *Store) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// ---- roster ----

// UpsertGrade returns the id of the grade with the given number, creating it if needed.
func (s *Store) UpsertGrade(ctx context.Context, number int) (int64, error) {
	if _, err := s.db.ExecContext(ctx, s.q(`INSERT INTO grades(number) VALUES(?) ON CONFLICT (number) DO NOTHING`), number); err != nil {
		return 0, fmt.Errorf("insert grade: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT id FROM grades WHERE number = ?`), number).Scan(&id); err != nil {
		return 0, fmt.Errorf("select grade: %w", err)
	}
	return id, nil
}

// UpsertStudent inserts a student or, when the document already exists,
// updates only the mutable fields (guardian handle and grade).
func (s *Store) UpsertStudent(ctx context.Context, st school.Student) (int64, error) {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO students(number, surnames, names, doc_type, document, email, guardian_handle, grade_id)
		VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT (document) DO UPDATE SET
			guardian_handle = excluded.guardian_handle,
			grade_id = excluded.grade_id`),
		st.Number, st.Surnames, st.Names, st.DocType, st.Document,
		nullStr(st.Email), nullStr(st.GuardianHandle), st.GradeID,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert student: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT id FROM students WHERE document = ?`), st.Document).Scan(&id); err != nil {
		return 0, fmt.Errorf("select student: %w", err)
	}
	return id, nil
}

const studentColumns = `s.id, s.number, s.surnames, s.names, s.doc_type, s.document, s.email, s.guardian_handle, s.grade_id, g.number`

func scanStudent(sc interface{ Scan(...any) error }) (school.Student, error) {
	var (
		st            school.Student
		email, handle sql.NullString
	)
	err := sc.Scan(&st.ID, &st.Number, &st.Surnames, &st.Names, &st.DocType, &st.Document,
		&email, &handle, &st.GradeID, &st.GradeNumber)
	if err != nil {
		return school.Student{}, err
	}
	st.Email = email.String
	st.GuardianHandle = handle.String
	return st, nil
}

// StudentByDocument resolves a document id. It returns school.ErrNotFound when unknown.
func (s *Store) StudentByDocument(ctx context.Context, document string) (school.Student, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+studentColumns+`
		FROM students s JOIN grades g ON g.id = s.grade_id
		WHERE s.document = ?`), strings.TrimSpace(document))
	st, err := scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return school.Student{}, school.ErrNotFound
	}
	if err != nil {
		return school.Student{}, fmt.Errorf("select student: %w", err)
	}
	return st, nil
}

// ListStudents returns the whole roster ordered by grade, then name.
func (s *Store) ListStudents(ctx context.Context) ([]school.Student, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+studentColumns+`
		FROM students s JOIN grades g ON g.id = s.grade_id
		ORDER BY g.number, s.surnames, s.names, s.id`)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()
	var out []school.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) ListGrades(ctx context.Context) ([]school.Grade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, number FROM grades ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("list grades: %w", err)
	}
	defer rows.Close()
	var out []school.Grade
	for rows.Next() {
		var g school.Grade
		if err := rows.Scan(&g.ID, &g.Number); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ---- attendance ledger ----

// InsertAttendance records a check-in. It returns false (and no error) when
// the student already has a record for that day.
func (s *Store) InsertAttendance(ctx context.Context, rec school.AttendanceRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO attendance(student_id, day, checked_in) VALUES(?,?,?)
		ON CONFLICT (student_id, day) DO NOTHING`),
		rec.StudentID, rec.Day.String(), rec.CheckedIn)
	if err != nil {
		return false, fmt.Errorf("insert attendance: %w", err)
	}
	return affected(res)
}

func (s *Store) Attendance(ctx context.Context, studentID int64, day calendar.Date) (school.AttendanceRecord, bool, error) {
	var checked string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT checked_in FROM attendance WHERE student_id = ? AND day = ?`),
		studentID, day.String()).Scan(&checked)
	if errors.Is(err, sql.ErrNoRows) {
		return school.AttendanceRecord{}, false, nil
	}
	if err != nil {
		return school.AttendanceRecord{}, false, fmt.Errorf("select attendance: %w", err)
	}
	return school.AttendanceRecord{StudentID: studentID, Day: day, CheckedIn: strings.TrimSpace(checked)}, true, nil
}

// AttendedOn returns the ids of students with a check-in on day.
func (s *Store) AttendedOn(ctx context.Context, day calendar.Date) (map[int64]struct{}, error) {
	return s.idSet(ctx, `SELECT student_id FROM attendance WHERE day = ?`, day)
}

// AttendanceBetween returns every record in [from, to], ordered by day.
func (s *Store) AttendanceBetween(ctx context.Context, from, to calendar.Date) ([]school.AttendanceRecord, error) {
	return s.attendance(ctx, `
		SELECT student_id, day, checked_in FROM attendance
		WHERE day >= ? AND day <= ? ORDER BY day, student_id`, from.String(), to.String())
}

// StudentAttendanceBetween is AttendanceBetween for one student.
func (s *Store) StudentAttendanceBetween(ctx context.Context, studentID int64, from, to calendar.Date) ([]school.AttendanceRecord, error) {
	return s.attendance(ctx, `
		SELECT student_id, day, checked_in FROM attendance
		WHERE student_id = ? AND day >= ? AND day <= ? ORDER BY day`, studentID, from.String(), to.String())
}

func (s *Store) attendance(ctx context.Context, query string, args ...any) ([]school.AttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select attendance: %w", err)
	}
	defer rows.Close()
	var out []school.AttendanceRecord
	for rows.Next() {
		var (
			rec          school.AttendanceRecord
			day, checked string
		)
		if err := rows.Scan(&rec.StudentID, &day, &checked); err != nil {
			return nil, err
		}
		if rec.Day, err = calendar.ParseDate(strings.TrimSpace(day)); err != nil {
			return nil, err
		}
		rec.CheckedIn = strings.TrimSpace(checked)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ---- notification ledger ----

// ClaimNotification reserves the (student, day) slot with a pending row.
// Only the caller that gets true may send; everyone else must skip.
func (s *Store) ClaimNotification(ctx context.Context, studentID int64, day calendar.Date, kind school.NotificationKind) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO notifications(student_id, day, kind, outcome, created_at, updated_at) VALUES(?,?,?,?,?,?)
		ON CONFLICT (student_id, day) DO NOTHING`),
		studentID, day.String(), string(kind), string(school.OutcomePending), now, now)
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	return affected(res)
}

// FinishNotification stores the outcome of a claimed slot.
func (s *Store) FinishNotification(ctx context.Context, studentID int64, day calendar.Date, outcome school.Outcome, detail string) error {
	detail = clipDetail(detail)
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE notifications SET outcome = ?, detail = ?, updated_at = ?
		WHERE student_id = ? AND day = ?`),
		string(outcome), nullStr(detail), time.Now().UTC().Format(time.RFC3339Nano), studentID, day.String())
	if err != nil {
		return fmt.Errorf("finish notification: %w", err)
	}
	return nil
}

// NotifiedOn returns the ids of students whose slot for day is taken.
func (s *Store) NotifiedOn(ctx context.Context, day calendar.Date) (map[int64]struct{}, error) {
	return s.idSet(ctx, `SELECT student_id FROM notifications WHERE day = ?`, day)
}

// NotificationsOn lists the ledger rows for day.
func (s *Store) NotificationsOn(ctx context.Context, day calendar.Date) ([]school.NotificationRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT student_id, kind, outcome, detail, updated_at FROM notifications
		WHERE day = ? ORDER BY student_id`), day.String())
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	defer rows.Close()
	var out []school.NotificationRecord
	for rows.Next() {
		var (
			rec               school.NotificationRecord
			kind, outcome, at string
			detail            sql.NullString
		)
		if err := rows.Scan(&rec.StudentID, &kind, &outcome, &detail, &at); err != nil {
			return nil, err
		}
		rec.Day = day
		rec.Kind = school.NotificationKind(strings.TrimSpace(kind))
		rec.Outcome = school.Outcome(strings.TrimSpace(outcome))
		rec.Detail = detail.String
		rec.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) idSet(ctx context.Context, query string, day calendar.Date) (map[int64]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), day.String())
	if err != nil {
		return nil, fmt.Errorf("select ids: %w", err)
	}
	defer rows.Close()
	out := map[int64]struct{}{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// ---- class days ----

func (s *Store) LoadClassDays(ctx context.Context) (calendar.Flags, bool, error) {
	var f calendar.Flags
	err := s.db.QueryRowContext(ctx, `
		SELECT monday, tuesday, wednesday, thursday, friday, saturday, sunday
		FROM class_days WHERE id = 1`).
		Scan(&f.Monday, &f.Tuesday, &f.Wednesday, &f.Thursday, &f.Friday, &f.Saturday, &f.Sunday)
	if errors.Is(err, sql.ErrNoRows) {
		return calendar.Flags{}, false, nil
	}
	if err != nil {
		return calendar.Flags{}, false, fmt.Errorf("select class days: %w", err)
	}
	return f, true, nil
}

func (s *Store) SaveClassDays(ctx context.Context, f calendar.Flags) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO class_days(id, monday, tuesday, wednesday, thursday, friday, saturday, sunday)
		VALUES(1,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			monday = excluded.monday, tuesday = excluded.tuesday, wednesday = excluded.wednesday,
			thursday = excluded.thursday, friday = excluded.friday, saturday = excluded.saturday,
			sunday = excluded.sunday`),
		f.Monday, f.Tuesday, f.Wednesday, f.Thursday, f.Friday, f.Saturday, f.Sunday)
	if err != nil {
		return fmt.Errorf("save class days: %w", err)
	}
	return nil
}

// clipDetail makes detail valid UTF-8 and cuts it to at most maxDetailLen
// bytes without splitting a rune.
func clipDetail(detail string) string {
	detail = strings.ToValidUTF8(detail, "\uFFFD")
	if len(detail) <= maxDetailLen {
		return detail
	}
	cut := maxDetailLen
	for cut > 0 && !utf8.RuneStart(detail[cut]) {
		cut--
	}
	return detail[:cut]
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
