package storage

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"educheck/internal/calendar"
	"educheck/internal/school"
	logx "educheck/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "educheck.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedStudent(t *testing.T, st *Store, grade int, doc, handle string) school.Student {
	t.Helper()
	ctx := context.Background()
	gid, err := st.UpsertGrade(ctx, grade)
	require.NoError(t, err)
	_, err = st.UpsertStudent(ctx, school.Student{
		Surnames: "Perez", Names: "Juan", DocType: "TI", Document: doc,
		GuardianHandle: handle, GradeID: gid,
	})
	require.NoError(t, err)
	s, err := st.StudentByDocument(ctx, doc)
	require.NoError(t, err)
	return s
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestStudentByDocument(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	s := seedStudent(t, st, 6, "12345", "777")
	assert.Equal(t, "Perez Juan", s.FullName())
	assert.Equal(t, 6, s.GradeNumber)
	assert.Equal(t, "777", s.GuardianHandle)

	got, err := st.StudentByDocument(context.Background(), " 12345 ")
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	_, err = st.StudentByDocument(context.Background(), "99999")
	assert.ErrorIs(t, err, school.ErrNotFound)
}

func TestUpsertStudentUpdatesHandleAndGrade(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	s := seedStudent(t, st, 6, "12345", "")
	assert.False(t, s.Notifiable())

	g7, err := st.UpsertGrade(ctx, 7)
	require.NoError(t, err)
	_, err = st.UpsertStudent(ctx, school.Student{
		Surnames: "Other", Names: "Name", Document: "12345", GuardianHandle: "555", GradeID: g7,
	})
	require.NoError(t, err)

	got, err := st.StudentByDocument(ctx, "12345")
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, "555", got.GuardianHandle)
	assert.Equal(t, 7, got.GradeNumber)
	assert.Equal(t, "Perez", got.Surnames)
}

func TestListStudentsOrdering(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	g7, _ := st.UpsertGrade(ctx, 7)
	g6, _ := st.UpsertGrade(ctx, 6)
	for _, s := range []school.Student{
		{Surnames: "Zapata", Names: "Ana", Document: "1", GradeID: g6},
		{Surnames: "Alvarez", Names: "Luis", Document: "2", GradeID: g7},
		{Surnames: "Alvarez", Names: "Beto", Document: "3", GradeID: g6},
	} {
		_, err := st.UpsertStudent(ctx, s)
		require.NoError(t, err)
	}
	list, err := st.ListStudents(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"3", "1", "2"}, []string{list[0].Document, list[1].Document, list[2].Document})

	grades, err := st.ListGrades(ctx)
	require.NoError(t, err)
	assert.Equal(t, []school.Grade{{ID: g6, Number: 6}, {ID: g7, Number: 7}}, grades)
}

func TestInsertAttendanceIsIdempotent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	s := seedStudent(t, st, 6, "12345", "")
	day := calendar.MustDate(2026, time.October, 15)

	ok, err := st.InsertAttendance(ctx, school.AttendanceRecord{StudentID: s.ID, Day: day, CheckedIn: "07:05:00"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.InsertAttendance(ctx, school.AttendanceRecord{StudentID: s.ID, Day: day, CheckedIn: "09:00:00"})
	require.NoError(t, err)
	assert.False(t, ok)

	rec, found, err := st.Attendance(ctx, s.ID, day)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "07:05:00", rec.CheckedIn, "first check-in time is kept")

	set, err := st.AttendedOn(ctx, day)
	require.NoError(t, err)
	assert.Contains(t, set, s.ID)

	set, err = st.AttendedOn(ctx, day.AddDays(1))
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestInsertAttendanceConcurrentSingleWinner(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	s := seedStudent(t, st, 6, "12345", "")
	day := calendar.MustDate(2026, time.October, 15)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.InsertAttendance(context.Background(), school.AttendanceRecord{StudentID: s.ID, Day: day, CheckedIn: "07:00:00"})
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestAttendanceBetween(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	a := seedStudent(t, st, 6, "1", "")
	b := seedStudent(t, st, 6, "2", "")
	days := []calendar.Date{
		calendar.MustDate(2026, time.September, 30),
		calendar.MustDate(2026, time.October, 1),
		calendar.MustDate(2026, time.October, 31),
		calendar.MustDate(2026, time.November, 2),
	}
	for _, d := range days {
		_, err := st.InsertAttendance(ctx, school.AttendanceRecord{StudentID: a.ID, Day: d, CheckedIn: "07:00:00"})
		require.NoError(t, err)
	}
	_, err := st.InsertAttendance(ctx, school.AttendanceRecord{StudentID: b.ID, Day: days[1], CheckedIn: "07:00:00"})
	require.NoError(t, err)

	first, last := calendar.MonthWindow(days[1])
	all, err := st.AttendanceBetween(ctx, first, last)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := st.StudentAttendanceBetween(ctx, a.ID, first, last)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, days[1], mine[0].Day)
	assert.Equal(t, days[2], mine[1].Day)
}

func TestNotificationClaimAndFinish(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	s := seedStudent(t, st, 6, "12345", "777")
	day := calendar.MustDate(2026, time.October, 15)

	ok, err := st.ClaimNotification(ctx, s.ID, day, school.KindEntry)
	require.NoError(t, err)
	assert.True(t, ok)

	// The slot is shared across kinds.
	ok, err = st.ClaimNotification(ctx, s.ID, day, school.KindAbsence)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.FinishNotification(ctx, s.ID, day, school.OutcomeError, strings.Repeat("x", 400)))

	recs, err := st.NotificationsOn(ctx, day)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, school.KindEntry, recs[0].Kind)
	assert.Equal(t, school.OutcomeError, recs[0].Outcome)
	assert.Len(t, recs[0].Detail, maxDetailLen)
	assert.False(t, recs[0].At.IsZero())

	set, err := st.NotifiedOn(ctx, day)
	require.NoError(t, err)
	assert.Contains(t, set, s.ID)

	// Multi-byte details are cut on a rune boundary.
	other := seedStudent(t, st, 6, "67890", "888")
	ok, err = st.ClaimNotification(ctx, other.ID, day, school.KindAbsence)
	require.NoError(t, err)
	require.True(t, ok)
	detail := "xx" + strings.Repeat("ñ", 200) // 402 bytes; byte 255 is mid-rune
	require.NoError(t, st.FinishNotification(ctx, other.ID, day, school.OutcomeError, detail))

	recs, err = st.NotificationsOn(ctx, day)
	require.NoError(t, err)
	var got string
	for _, r := range recs {
		if r.StudentID == other.ID {
			got = r.Detail
		}
	}
	assert.True(t, utf8.ValidString(got))
	assert.Len(t, got, maxDetailLen-1)
	assert.Equal(t, "xx"+strings.Repeat("ñ", 126), got)
}

func TestClipDetail(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ok", clipDetail("ok"))
	assert.Equal(t, "a\uFFFDb", clipDetail("a\xffb"))
	assert.Len(t, clipDetail(strings.Repeat("x", 400)), maxDetailLen)
	assert.Equal(t, strings.Repeat("€", 85), clipDetail(strings.Repeat("€", 100)))
}

func TestClassDaysRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	_, ok, err := st.LoadClassDays(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	f := calendar.DefaultFlags()
	require.NoError(t, st.SaveClassDays(ctx, f))
	f.Saturday = true
	f.Monday = false
	require.NoError(t, st.SaveClassDays(ctx, f))

	got, ok, err := st.LoadClassDays(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, f, got)

	// The store satisfies the calendar repository.
	svc := calendar.NewService(st)
	c, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.True(t, c.Flags().Saturday)
}

func TestRebindPostgres(t *testing.T) {
	t.Parallel()
	s := &Store{dialect: dialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", s.q("SELECT a FROM t WHERE x = ? AND y = ?"))
	s.dialect = dialectSQLite
	assert.Equal(t, "x = ?", s.q("x = ?"))
}
