package report

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watzon/dockd/internal/action"
	"github.com/watzon/dockd/internal/config"
	"github.com/watzon/dockd/internal/database"
	"github.com/watzon/dockd/internal/dock"
	"github.com/watzon/dockd/internal/model"
	"github.com/watzon/dockd/internal/schedule"
	"github.com/watzon/dockd/internal/scheduler"
	"github.com/watzon/dockd/internal/store"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()

	tmpDir := t.TempDir()
	cfg := &config.DatabaseConfig{
		Path:         filepath.Join(tmpDir, "test.db"),
		WALMode:      true,
		ForeignKeys:  true,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		CacheSize:    -2000,
	}

	db, err := database.Open(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

type fakeDecider struct {
	next  *action.Action
	err   error
	due   map[string]time.Time
	calls []*action.Event
}

func (f *fakeDecider) GetNextAction(_ context.Context, last *action.Event) (*action.Action, error) {
	f.calls = append(f.calls, last)
	if f.next == nil {
		return action.Nothing(), f.err
	}
	return f.next, f.err
}

func (f *fakeDecider) NextDue(code string) (time.Time, bool) {
	t, ok := f.due[code]
	return t, ok
}

type failingUploader struct{ err error }

func (u failingUploader) Upload(context.Context, []*Record) error { return u.err }

var t0 = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func calEvent() *action.Event {
	a := action.New(action.KindInstrumentCalibration, action.TriggerScheduled)
	a.EventCode = model.Calibration
	a.Instrument = &model.Instrument{SerialNumber: "MX6-0001"}
	ev := action.NewEvent(a)
	ev.Time = t0
	ev.Duration = 90 * time.Second
	ev.Passed = true
	ev.Journals = model.Journals{
		{EventCode: "CAL", SerialNumber: "S-CO", InstrumentSerialNumber: "MX6-0001", RunTime: t0, Passed: true, Position: 1},
	}
	return ev
}

func TestOutbox_ReportEvent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	bump := action.New(action.KindInstrumentBumpTest, action.TriggerScheduled)
	d := &fakeDecider{next: bump, due: map[string]time.Time{"CAL": t0.Add(24 * time.Hour)}}
	o := New(db, d, nil, nil, WithClock(func() time.Time { return t0 }))

	ev := calEvent()
	next, err := o.ReportEvent(ctx, ev)
	require.NoError(t, err)
	require.Same(t, bump, next)
	require.Len(t, d.calls, 1)
	require.Same(t, ev, d.calls[0])

	js, err := store.NewJournalStore(db).FindBySerialNumbers(ctx, []string{"S-CO"})
	require.NoError(t, err)
	require.Len(t, js, 1)

	pending, err := o.Store().Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, KindEvent, pending[0].Kind)

	var payload EventPayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	require.Equal(t, "CAL", payload.EventCode)
	require.Equal(t, string(action.KindInstrumentCalibration), payload.ActionKind)
	require.Equal(t, int64(90000), payload.DurationMS)
	require.NotNil(t, payload.NextCalibrationDue)
	require.True(t, payload.NextCalibrationDue.Equal(t0.Add(24*time.Hour)))
	require.Nil(t, payload.NextBumpDue)
}

func TestOutbox_ReportEventPassesRefusal(t *testing.T) {
	alarm := &model.SystemAlarmError{SerialNumber: "MX6-0001"}
	o := New(testDB(t), &fakeDecider{err: alarm}, nil, nil)

	next, err := o.ReportEvent(context.Background(), calEvent())
	require.ErrorIs(t, err, alarm)
	require.True(t, next.IsNothing())
}

func TestOutbox_ReportErrorAndHeartbeat(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	state := dock.NewState(model.Station{SerialNumber: "DS-0001"}, model.Account{})
	tick := t0
	o := New(db, &fakeDecider{}, state, nil, WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}))

	require.NoError(t, o.ReportError(ctx, errors.New("boom")))
	require.NoError(t, o.ReportError(ctx, nil))

	next, err := o.Heartbeat(ctx)
	require.NoError(t, err)
	require.True(t, next.IsNothing())

	pending, err := o.Store().Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, KindError, pending[0].Kind)
	require.Equal(t, KindHeartbeat, pending[1].Kind)

	var hb HeartbeatPayload
	require.NoError(t, json.Unmarshal(pending[1].Payload, &hb))
	require.Equal(t, "DS-0001", hb.Station)
	require.Empty(t, hb.Instrument)
}

func TestOutbox_FlushAndCleanup(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	now := t0
	o := New(db, &fakeDecider{}, nil, &Config{BatchSize: 2, Retention: time.Hour}, WithClock(func() time.Time { return now }))

	for range 3 {
		require.NoError(t, o.ReportError(ctx, errors.New("x")))
	}

	n, err := o.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = o.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = o.Flush(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	counts, err := o.Store().Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, counts[StatusDelivered])

	deleted, err := o.Cleanup(ctx)
	require.NoError(t, err)
	require.Zero(t, deleted)

	now = t0.Add(2 * time.Hour)
	deleted, err = o.Cleanup(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)
}

func TestOutbox_FlushFailureKeepsRecords(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	o := New(db, &fakeDecider{}, nil, nil, WithUploader(failingUploader{err: errors.New("offline")}))

	require.NoError(t, o.ReportError(ctx, errors.New("x")))

	_, err := o.Flush(ctx)
	require.Error(t, err)

	pending, err := o.Store().Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, StatusFailed, pending[0].Status)
	require.Equal(t, 1, pending[0].Attempts)
	require.Equal(t, "offline", pending[0].LastError)
}

type switchUploader struct{ err error }

func (u *switchUploader) Upload(context.Context, []*Record) error { return u.err }

func TestOutbox_FlushRecordsConnection(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	state := dock.NewState(model.Station{SerialNumber: "DS-0001"}, model.Account{})
	up := &switchUploader{err: errors.New("offline")}
	o := New(db, &fakeDecider{}, state, nil, WithUploader(up), WithConnectionRecorder(state))

	state.SetServerConnected(true)
	n, err := o.Flush(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.True(t, state.Snapshot().ServerConnected, "no delivery attempt, no change")

	require.NoError(t, o.ReportError(ctx, errors.New("x")))
	_, err = o.Flush(ctx)
	require.Error(t, err)
	require.False(t, state.Snapshot().ServerConnected)

	up.err = nil
	n, err = o.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.True(t, state.Snapshot().ServerConnected)
}

func TestOutbox_WithScheduler(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	schedules := store.NewScheduleStore(db)
	require.NoError(t, schedules.Create(ctx, &schedule.Schedule{
		Name:       "daily cal",
		EventCode:  model.Calibration,
		Recurrence: schedule.RecurrenceDaily,
		Enabled:    true,
		Interval:   1,
	}))

	inst := &model.Instrument{
		SerialNumber:    "MX6-0001",
		Type:            model.InstrumentMX6,
		SoftwareVersion: "4.2",
		Sensors: []model.Sensor{
			{SerialNumber: "S-CO", ComponentCode: "S0001", GasCode: "G0001", Symbol: "CO", Position: 1, Enabled: true, BumpTestPassed: true},
		},
	}
	state := dock.NewState(model.Station{
		SerialNumber:   "DS-0001",
		InstrumentType: model.InstrumentMX6,
		Activated:      true,
		AvailableGases: []string{"G0001"},
	}, model.Account{})
	state.SetSynchronized(true)
	state.SetDocked(inst, t0)

	now := t0
	clock := func() time.Time { return now }
	sched := scheduler.New(schedules, store.NewJournalStore(db), state, scheduler.WithClock(clock))
	o := New(db, sched, state, nil, WithClock(clock))

	first, err := o.Heartbeat(ctx)
	require.NoError(t, err)
	require.Equal(t, action.KindInstrumentCalibration, first.Kind)

	ev := action.NewEvent(first)
	ev.Time = t0
	ev.Passed = true
	ev.Journals = model.Journals{{
		EventCode: "CAL", SerialNumber: "S-CO", InstrumentSerialNumber: "MX6-0001",
		RunTime: t0, Passed: true, SoftwareVersion: "4.2", Position: 1,
	}}

	now = t0.Add(time.Minute)
	next, err := o.ReportEvent(ctx, ev)
	require.NoError(t, err)
	require.True(t, next.IsNothing())

	due, ok := sched.NextDue("CAL")
	require.True(t, ok)
	require.True(t, due.Equal(t0.Add(24*time.Hour)))
}
