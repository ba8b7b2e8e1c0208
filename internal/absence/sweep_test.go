package absence

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"educheck/internal/attendance"
	"educheck/internal/calendar"
	"educheck/internal/eventbus"
	"educheck/internal/metrics"
	"educheck/internal/notifier/notifiertest"
	"educheck/internal/school"
	"educheck/internal/storage"
	"educheck/internal/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-10-15 is a Thursday; 2026-10-17 is a Saturday.
var (
	thursday = calendar.MustDate(2026, time.October, 15)
	saturday = calendar.MustDate(2026, time.October, 17)
)

func zone(t *testing.T) calendar.Zone {
	t.Helper()
	z, err := calendar.LoadZone("America/Bogota")
	require.NoError(t, err)
	return z
}

func newSweeper(t *testing.T, st *storage.Store, rec *notifiertest.Recorder) *Sweeper {
	t.Helper()
	return NewSweeper(st, calendar.NewService(st), rec, zone(t), Options{Metrics: metrics.New()})
}

func TestSweepNotifiesAbsentStudents(t *testing.T) {
	t.Parallel()
	st := storagetest.Open(t)
	present := storagetest.Student(t, st, 6, "Gomez", "Ana", "1", "100")
	absent := storagetest.Student(t, st, 7, "Ruiz", "Luis", "2", "200")
	storagetest.Student(t, st, 7, "Diaz", "Eva", "3", "")
	rec := notifiertest.New()
	sw := newSweeper(t, st, rec)
	ctx := context.Background()

	_, err := st.InsertAttendance(ctx, school.AttendanceRecord{StudentID: present.ID, Day: thursday, CheckedIn: "06:50:00"})
	require.NoError(t, err)

	tally, err := sw.RunFor(ctx, thursday)
	require.NoError(t, err)
	assert.True(t, tally.SchoolDay)
	assert.NotEmpty(t, tally.RunID)
	assert.Equal(t, 1, tally.Sent)
	assert.Equal(t, 1, tally.Skipped)
	assert.Equal(t, 0, tally.Errors)

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "200", msgs[0].Handle)
	assert.Equal(t, attendance.AbsenceMessage(absent, DefaultAlertTime), msgs[0].Text)

	notes, err := st.NotificationsOn(ctx, thursday)
	require.NoError(t, err)
	require.Len(t, notes, 1, "handle-less students leave no ledger row")
	assert.Equal(t, absent.ID, notes[0].StudentID)
	assert.Equal(t, school.KindAbsence, notes[0].Kind)
	assert.Equal(t, school.OutcomeSent, notes[0].Outcome)
}

func TestSweepIsReentrant(t *testing.T) {
	t.Parallel()
	st := storagetest.Open(t)
	storagetest.Student(t, st, 6, "Ruiz", "Luis", "2", "200")
	rec := notifiertest.New()
	sw := newSweeper(t, st, rec)
	ctx := context.Background()

	first, err := sw.RunFor(ctx, thursday)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Sent)

	second, err := sw.RunFor(ctx, thursday)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Sent+second.Skipped+second.Errors)
	assert.Equal(t, 1, rec.Count())
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestSweepConcurrentRunsNotifyOnce(t *testing.T) {
	t.Parallel()
	st := storagetest.Open(t)
	for _, doc := range []string{"1", "2", "3", "4"} {
		storagetest.Student(t, st, 6, "Alumno", doc, doc, "h"+doc)
	}
	rec := notifiertest.New()
	sw := newSweeper(t, st, rec)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = sw.RunFor(context.Background(), thursday)
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, rec.Count())
	notes, err := st.NotificationsOn(context.Background(), thursday)
	require.NoError(t, err)
	assert.Len(t, notes, 4)
}

func TestSweepRacingCheckInSendsOnce(t *testing.T) {
	t.Parallel()
	st := storagetest.Open(t)
	rec := notifiertest.New()
	z := zone(t)
	sw := NewSweeper(st, calendar.NewService(st), rec, z, Options{})
	h := attendance.NewHandler(st, rec, z, attendance.Options{})
	ctx := context.Background()
	// 07:05 in Bogota, just before the alert.
	at := time.Date(2026, time.October, 15, 12, 5, 0, 0, time.UTC)

	for i := 0; i < 20; i++ {
		doc := strconv.Itoa(100 + i)
		s := storagetest.Student(t, st, 6, "Alumno", doc, doc, "h"+doc)

		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.CheckIn(ctx, doc, at)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, err := sw.RunFor(ctx, thursday)
			assert.NoError(t, err)
		}()
		close(start)
		wg.Wait()

		notes, err := st.NotificationsOn(ctx, thursday)
		require.NoError(t, err)
		rows := 0
		for _, n := range notes {
			if n.StudentID == s.ID {
				rows++
				assert.Equal(t, school.OutcomeSent, n.Outcome)
			}
		}
		assert.Equal(t, 1, rows, "student %s", doc)

		sends := 0
		for _, m := range rec.Messages() {
			if m.Handle == "h"+doc {
				sends++
			}
		}
		assert.Equal(t, 1, sends, "student %s", doc)
	}
}

func TestSweepSkipsNonSchoolDay(t *testing.T) {
	t.Parallel()
	st := storagetest.Open(t)
	storagetest.Student(t, st, 6, "Ruiz", "Luis", "2", "200")
	rec := notifiertest.New()
	sw := newSweeper(t, st, rec)

	tally, err := sw.RunFor(context.Background(), saturday)
	require.NoError(t, err)
	assert.False(t, tally.SchoolDay)
	assert.Equal(t, 0, tally.Sent+tally.Skipped+tally.Errors)
	assert.Zero(t, rec.Count())

	notes, err := st.NotificationsOn(context.Background(), saturday)
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestSweepHonorsCalendarUpdate(t *testing.T) {
	t.Parallel()
	st := storagetest.Open(t)
	storagetest.Student(t, st, 6, "Ruiz", "Luis", "2", "200")
	cals := calendar.NewService(st)
	_, err := cals.Update(context.Background(), calendar.Patch{time.Thursday: false})
	require.NoError(t, err)
	rec := notifiertest.New()
	sw := NewSweeper(st, cals, rec, zone(t), Options{})

	tally, err := sw.RunFor(context.Background(), thursday)
	require.NoError(t, err)
	assert.False(t, tally.SchoolDay)
	assert.Zero(t, rec.Count())
}

func TestSweepIsolatesNotifierErrors(t *testing.T) {
	t.Parallel()
	st := storagetest.Open(t)
	storagetest.Student(t, st, 6, "A", "A", "1", "bad")
	storagetest.Student(t, st, 6, "B", "B", "2", "good")
	rec := notifiertest.New()
	rec.Fail = map[string]string{"bad": "Forbidden: bot was blocked by the user"}
	sw := newSweeper(t, st, rec)

	tally, err := sw.RunFor(context.Background(), thursday)
	require.NoError(t, err)
	assert.Equal(t, 1, tally.Sent)
	assert.Equal(t, 1, tally.Errors)

	// Errored slots are still taken; the next run does not retry them.
	again, err := sw.RunFor(context.Background(), thursday)
	require.NoError(t, err)
	assert.Zero(t, again.Errors)
	assert.Equal(t, 2, rec.Count())
}

func TestSweepAfterCheckInScenario(t *testing.T) {
	t.Parallel()
	st := storagetest.Open(t)
	storagetest.Student(t, st, 6, "Perez", "J.", "12345", "777")
	rec := notifiertest.New()
	z := zone(t)
	h := attendance.NewHandler(st, rec, z, attendance.Options{})
	sw := NewSweeper(st, calendar.NewService(st), rec, z, Options{})
	ctx := context.Background()

	// 06:55 local on Thursday 2026-10-15.
	now := time.Date(2026, time.October, 15, 11, 55, 0, 0, time.UTC)
	res, err := h.CheckIn(ctx, "12345", now)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusRegistered, res.Status)
	require.NotNil(t, res.Notification)
	assert.Equal(t, school.OutcomeSent, res.Notification.Outcome)

	tally, err := sw.Run(ctx, now.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, Tally{RunID: tally.RunID, Day: thursday, SchoolDay: true}, tally)

	notes, err := st.NotificationsOn(ctx, thursday)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, school.KindEntry, notes[0].Kind)
	assert.Equal(t, 1, rec.Count())
}

func TestSweepUsesConfiguredAlertTime(t *testing.T) {
	t.Parallel()
	st := storagetest.Open(t)
	storagetest.Student(t, st, 6, "Ruiz", "Luis", "2", "200")
	rec := notifiertest.New()
	sw := newSweeper(t, st, rec)
	sw.SetAlertTime("08:30")

	_, err := sw.RunFor(context.Background(), thursday)
	require.NoError(t, err)
	require.Equal(t, 1, rec.Count())
	assert.Contains(t, rec.Messages()[0].Text, "hasta las 08:30.")
}

func TestSweepPublishesCompletion(t *testing.T) {
	t.Parallel()
	st := storagetest.Open(t)
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(2)
	defer unsub()
	sw := NewSweeper(st, calendar.NewService(st), nil, zone(t), Options{Bus: bus})

	tally, err := sw.RunFor(context.Background(), thursday)
	require.NoError(t, err)
	select {
	case e := <-ch:
		assert.Equal(t, eventbus.TypeSweepCompleted, e.Type)
		assert.Equal(t, tally, e.Data)
	case <-time.After(time.Second):
		t.Fatal("no completion event")
	}
}

type failingStore struct {
	*storage.Store
	err error
}

func (f failingStore) ListStudents(context.Context) ([]school.Student, error) { return nil, f.err }

func TestSweepStorageOutageIsFatal(t *testing.T) {
	t.Parallel()
	st := storagetest.Open(t)
	outage := errors.New("database is locked")
	sw := NewSweeper(failingStore{Store: st, err: outage}, calendar.NewService(st), notifiertest.New(), zone(t), Options{})

	tally, err := sw.RunFor(context.Background(), thursday)
	require.ErrorIs(t, err, outage)
	assert.True(t, tally.SchoolDay)
}

func TestSweepStopsOnCancel(t *testing.T) {
	t.Parallel()
	st := storagetest.Open(t)
	storagetest.Student(t, st, 6, "Ruiz", "Luis", "2", "200")
	rec := notifiertest.New()
	sw := newSweeper(t, st, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sw.RunFor(ctx, thursday)
	require.Error(t, err)
	assert.Zero(t, rec.Count())
}
