package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watzon/dockd/internal/config"
	"github.com/watzon/dockd/internal/database"
	"github.com/watzon/dockd/internal/model"
	"github.com/watzon/dockd/internal/schedule"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		WALMode:      true,
		ForeignKeys:  true,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sched(name string, code model.EventCode, mutate func(*schedule.Schedule)) *schedule.Schedule {
	s := &schedule.Schedule{
		Name:       name,
		EventCode:  code,
		Recurrence: schedule.RecurrenceDaily,
		Enabled:    true,
		Interval:   1,
	}
	if mutate != nil {
		mutate(s)
	}
	return s
}

func names(ss []*schedule.Schedule) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.Name
	}
	return out
}

func TestScheduleStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	st := NewScheduleStore(testDB(t))

	in := sched("weekly bump", model.BumpTest, func(s *schedule.Schedule) {
		s.Recurrence = schedule.RecurrenceWeekly
		s.Interval = 2
		s.StartDate = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
		s.RunAt = &schedule.TimeOfDay{Hour: 6, Minute: 30}
		s.Weekdays = []time.Weekday{time.Monday, time.Thursday}
		s.SerialNumbers = []string{"MX6-0001", "MX6-0002"}
		s.Properties = map[string]string{"note": "x"}
	})
	require.NoError(t, st.Create(ctx, in))
	require.NotZero(t, in.RefID)

	got, err := st.Get(ctx, in.RefID)
	require.NoError(t, err)
	require.Equal(t, in.Name, got.Name)
	require.Equal(t, model.BumpTest, got.EventCode)
	require.Equal(t, schedule.RecurrenceWeekly, got.Recurrence)
	require.Equal(t, 2, got.Interval)
	require.True(t, got.StartDate.Equal(in.StartDate))
	require.Equal(t, *in.RunAt, *got.RunAt)
	require.Equal(t, in.Weekdays, got.Weekdays)
	require.Equal(t, in.SerialNumbers, got.SerialNumbers)
	require.Equal(t, "x", got.Property("note"))
	require.True(t, got.Enabled)
}

func TestScheduleStore_DuplicateName(t *testing.T) {
	ctx := context.Background()
	st := NewScheduleStore(testDB(t))

	require.NoError(t, st.Create(ctx, sched("daily cal", model.Calibration, nil)))
	err := st.Create(ctx, sched("daily cal", model.BumpTest, nil))
	require.Error(t, err)
	require.True(t, database.IsUniqueError(err))
}

func TestScheduleStore_Finders(t *testing.T) {
	ctx := context.Background()
	st := NewScheduleStore(testDB(t))

	all := []*schedule.Schedule{
		sched("global cal", model.Calibration, nil),
		sched("mx4 bump", model.BumpTest, func(s *schedule.Schedule) { s.EquipmentType = "MX4" }),
		sched("assigned diag", model.InstrumentDiagnostics, func(s *schedule.Schedule) { s.SerialNumbers = []string{"MX6-0001"} }),
		sched("co bump", model.BumpTest, func(s *schedule.Schedule) { s.ComponentCodes = []string{"S0001"} }),
		sched("o2 cal", model.Calibration, func(s *schedule.Schedule) { s.ComponentCodes = []string{"S0020", "S0021"} }),
	}
	require.NoError(t, st.Replace(ctx, all))

	got, err := st.FindGlobalSchedules(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"global cal"}, names(got))

	got, err = st.FindGlobalTypeSpecificSchedules(ctx, "MX4")
	require.NoError(t, err)
	require.Equal(t, []string{"mx4 bump"}, names(got))

	got, err = st.FindBySerialNumbers(ctx, []string{"MX6-0001", "S-CO"})
	require.NoError(t, err)
	require.Equal(t, []string{"assigned diag"}, names(got))

	got, err = st.FindByComponentCodes(ctx, []string{"S0001", "S0020"})
	require.NoError(t, err)
	require.Equal(t, []string{"co bump", "o2 cal"}, names(got))
	require.Equal(t, []string{"S0020", "S0021"}, got[1].ComponentCodes)

	got, err = st.FindByComponentCodes(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestScheduleStore_ReplaceAndDelete(t *testing.T) {
	ctx := context.Background()
	st := NewScheduleStore(testDB(t))

	require.NoError(t, st.Replace(ctx, []*schedule.Schedule{sched("a", model.Calibration, nil), sched("b", model.BumpTest, nil)}))
	require.NoError(t, st.Replace(ctx, []*schedule.Schedule{sched("c", model.Diagnostics, nil)}))

	list, err := st.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, names(list))

	require.NoError(t, st.SetEnabled(ctx, list[0].RefID, false))
	got, err := st.Get(ctx, list[0].RefID)
	require.NoError(t, err)
	require.False(t, got.Enabled)

	require.NoError(t, st.Delete(ctx, list[0].RefID))
	_, err = st.Get(ctx, list[0].RefID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, st.Delete(ctx, list[0].RefID), ErrNotFound)
}

func TestScheduleStore_RejectsInvalid(t *testing.T) {
	st := NewScheduleStore(testDB(t))
	err := st.Create(context.Background(), sched("bad", model.Calibration, func(s *schedule.Schedule) { s.Recurrence = "fortnightly" }))
	require.Error(t, err)
}

func TestJournalStore(t *testing.T) {
	ctx := context.Background()
	st := NewJournalStore(testDB(t))
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	journal := func(code, serial string, at time.Time, passed bool, pos int) model.EventJournal {
		return model.EventJournal{
			EventCode:              code,
			SerialNumber:           serial,
			InstrumentSerialNumber: "MX6-0001",
			RunTime:                at,
			Passed:                 passed,
			SoftwareVersion:        "4.2",
			Position:               pos,
		}
	}

	require.NoError(t, st.Record(ctx,
		journal("CAL", "S-CO", t0, true, 1),
		journal("CAL", "S-O2", t0, true, 2),
		journal("CAL", "S-CO", t0.Add(24*time.Hour), false, 1),
		journal("CAL", "S-O2", t0.Add(24*time.Hour), true, 2),
		journal("BUMP", "S-CO", t0.Add(time.Hour), true, 1),
	))

	js, err := st.FindBySerialNumbers(ctx, []string{"S-CO"})
	require.NoError(t, err)
	require.Len(t, js, 3)
	last, ok := js.Last("CAL", "S-CO")
	require.True(t, ok)
	require.False(t, last.Passed)
	require.True(t, last.RunTime.Equal(t0.Add(24*time.Hour)))

	lastCal, err := st.FindLastEventByInstrumentSerialNumber(ctx, "MX6-0001", "CAL")
	require.NoError(t, err)
	require.Len(t, lastCal, 2)
	require.Equal(t, "S-CO", lastCal[0].SerialNumber)
	require.Equal(t, 2, lastCal[1].Position)

	none, err := st.FindLastEventByInstrumentSerialNumber(ctx, "MX6-0001", "INSTDIAG")
	require.NoError(t, err)
	require.Empty(t, none)

	listed, err := st.List(ctx, JournalFilter{EventCode: "CAL", Since: t0.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, listed, 2)

	listed, err = st.List(ctx, JournalFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.True(t, listed[0].RunTime.Equal(t0.Add(24*time.Hour)))
}
