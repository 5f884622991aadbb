package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/watzon/dockd/internal/config"
	"github.com/watzon/dockd/internal/database"
	"github.com/watzon/dockd/internal/model"
	"github.com/watzon/dockd/internal/schedule"
	"github.com/watzon/dockd/internal/sim"
	"github.com/watzon/dockd/internal/store"
)

const seedYAML = `schedules:
  - name: Daily calibration
    event_code: CAL
    recurrence: daily
    run_at: "06:00"
  - name: Bump MX6 sensors
    event_code: BUMP
    recurrence: weekly
    weekdays: [mon, thu]
    equipment_type: MX6
    component_codes: [S0020]
journals:
  - event_code: CAL
    serial: S-CO
    instrument_serial: MX6-0001
    run_time: 2026-03-01T06:00:00Z
    passed: true
`

// testConfig points the package-level cfg at a temporary database.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	c := config.Default()
	c.Station.SerialNumber = "DS-0001"
	c.Station.AvailableGases = []string{"G0001"}
	c.Database.Path = filepath.Join(t.TempDir(), "dockd.db")

	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
	return c
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func openDB(t *testing.T, c *config.Config) *database.DB {
	t.Helper()
	db, err := database.Open(&c.Database)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestImportSeed(t *testing.T) {
	c := testConfig(t)
	db := openDB(t, c)
	ctx := context.Background()

	seed, err := schedule.ParseSeed([]byte(seedYAML))
	require.NoError(t, err)

	n, j, err := importSeed(ctx, db, seed, false)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 1, j)

	_, _, err = importSeed(ctx, db, seed, false)
	require.ErrorContains(t, err, "use --replace")
	require.True(t, database.IsUniqueError(err))

	_, _, err = importSeed(ctx, db, seed, true)
	require.NoError(t, err)
	all, err := store.NewScheduleStore(db).List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	journals, err := store.NewJournalStore(db).List(ctx, store.JournalFilter{SerialNumber: "S-CO"})
	require.NoError(t, err)
	require.Len(t, journals, 2)
}

func TestImportSeed_InvalidSchedule(t *testing.T) {
	c := testConfig(t)
	db := openDB(t, c)

	seed, err := schedule.ParseSeed([]byte("schedules:\n  - name: bad\n    event_code: NOPE\n    recurrence: daily\n"))
	require.NoError(t, err)

	_, _, err = importSeed(context.Background(), db, seed, false)
	require.ErrorContains(t, err, "unknown event code")
}

func TestScheduleCommands(t *testing.T) {
	testConfig(t)
	seedPath := writeFile(t, "schedules.yaml", seedYAML)

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	require.NoError(t, runScheduleList(cmd, nil))
	require.Contains(t, out.String(), "No schedules found.")

	out.Reset()
	require.NoError(t, runScheduleImport(cmd, []string{seedPath}))
	require.Contains(t, out.String(), "Imported 2 schedules and 1 journals")

	out.Reset()
	require.NoError(t, runScheduleList(cmd, nil))
	require.Contains(t, out.String(), "Daily calibration")
	require.Contains(t, out.String(), "daily 06:00")
	require.Contains(t, out.String(), "MX6 [S0020]")

	out.Reset()
	require.NoError(t, runScheduleDelete(cmd, []string{"1"}))
	require.Contains(t, out.String(), "Deleted schedule 1")

	require.Error(t, runScheduleDelete(cmd, []string{"abc"}))
}

func TestJournalList(t *testing.T) {
	c := testConfig(t)
	db := openDB(t, c)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, store.NewJournalStore(db).Record(ctx,
		model.EventJournal{EventCode: "CAL", SerialNumber: "S-CO", InstrumentSerialNumber: "MX6-0001", RunTime: base, Passed: true},
		model.EventJournal{EventCode: "BUMP", SerialNumber: "S-CO", InstrumentSerialNumber: "MX6-0001", RunTime: base.Add(time.Hour)},
		model.EventJournal{EventCode: "CAL", SerialNumber: "S-H2S", InstrumentSerialNumber: "MX6-0002", RunTime: base},
	))

	journalSerial, journalCode, journalSince, journalLimit = "S-CO", "cal", "", 50
	t.Cleanup(func() { journalSerial, journalCode, journalSince, journalLimit = "", "", "", 50 })

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	require.NoError(t, runJournalList(cmd, nil))
	require.Contains(t, out.String(), "2026-03-01 06:00:00")
	require.NotContains(t, out.String(), "BUMP")
	require.NotContains(t, out.String(), "S-H2S")

	journalSince = "yesterday"
	require.ErrorContains(t, runJournalList(cmd, nil), "invalid --since")
}

func TestRunNext(t *testing.T) {
	testConfig(t)

	docked := true
	devicePath := filepath.Join(t.TempDir(), "instrument.yaml")
	require.NoError(t, sim.WriteDevice(devicePath, &sim.Device{
		Docked: &docked,
		Instrument: model.Instrument{
			SerialNumber:    "MX6-0001",
			Type:            model.InstrumentMX6,
			SoftwareVersion: "4.1",
			BatteryCode:     "LI",
			Sensors: []model.Sensor{{
				SerialNumber: "S-CO", ComponentCode: "S0001", GasCode: "G0001",
				Enabled: true, Mode: model.SensorModeNormal, CalibrationStatus: model.CalibrationPassed,
			}},
		},
	}))

	nextInstrument, nextAt, nextDockedAt, nextOffline = devicePath, "2026-03-02T09:00:00Z", "", false
	t.Cleanup(func() { nextInstrument, nextAt, nextDockedAt, nextOffline = "", "", "", false })

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	require.NoError(t, runNext(cmd, nil))

	got := out.String()
	require.Contains(t, got, "Decision time: 2026-03-02T09:00:00Z")
	require.Contains(t, got, "Instrument:    MX6-0001 (MX6, firmware 4.1)")
	require.Contains(t, got, "Next action:")
	require.Contains(t, got, "NEXT DUE")

	nextInstrument = filepath.Join(t.TempDir(), "missing.yaml")
	require.ErrorContains(t, runNext(cmd, nil), "device file not found")
}

func TestApplyReload(t *testing.T) {
	running := testConfig(t)
	state, err := newState(running)
	require.NoError(t, err)

	next := *running
	next.Account.StopOnFailedBump = true
	next.Station.ReplacedEquipment = []string{"MX6-00*"}
	applyReload(state, running, &next)

	snap := state.Snapshot()
	require.True(t, snap.Account.StopOnFailedBump)
	require.Empty(t, snap.Station.ConfigError)

	state.SetDocked(&model.Instrument{SerialNumber: "MX6-0042", Type: model.InstrumentMX6}, time.Now())
	require.True(t, state.Replaced())

	next.Station.SerialNumber = "DS-0002"
	applyReload(state, running, &next)
	require.Equal(t, "Station settings changed, restart required", state.Snapshot().Station.ConfigError)

	applyReload(state, running, running)
	require.Empty(t, state.Snapshot().Station.ConfigError)
}

func TestSchedulerOptions(t *testing.T) {
	c := testConfig(t)
	require.Len(t, schedulerOptions(c), 2)

	c.Scheduler.CalStationEventCode = ""
	require.Len(t, schedulerOptions(c), 1)
}

func TestFormatSchedule(t *testing.T) {
	require.Equal(t, "global", formatSchedule(&schedule.Schedule{}))
	require.Equal(t, "[A B]", formatSchedule(&schedule.Schedule{SerialNumbers: []string{"A", "B"}}))
	require.Equal(t, "MX6 [S0020]", formatSchedule(&schedule.Schedule{EquipmentType: "MX6", ComponentCodes: []string{"S0020"}}))
}

func TestDBStatus(t *testing.T) {
	testConfig(t)

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	require.NoError(t, runDBStatus(cmd, nil))
	require.Contains(t, out.String(), "event_journals")
	require.NotContains(t, out.String(), "pending")
}

func TestEngine_ForcedEventRuns(t *testing.T) {
	tests := []struct {
		name         string
		synchronized bool
		wantJournals int
		wantQueued   int
	}{
		{name: "synchronized station runs the request", synchronized: true, wantJournals: 1, wantQueued: 0},
		{name: "unsynchronized station holds the request", synchronized: false, wantJournals: 0, wantQueued: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testConfig(t)
			c.Station.Synchronized = tt.synchronized
			db := openDB(t, c)
			ctx := context.Background()

			docked := true
			devicePath := filepath.Join(t.TempDir(), "instrument.yaml")
			require.NoError(t, sim.WriteDevice(devicePath, &sim.Device{
				Docked: &docked,
				Instrument: model.Instrument{
					SerialNumber:    "MX6-0001",
					Type:            model.InstrumentMX6,
					SoftwareVersion: "4.1",
					BatteryCode:     "LI",
					Sensors: []model.Sensor{{
						SerialNumber: "S-CO", ComponentCode: "S0001", GasCode: "G0001",
						Enabled: true, Mode: model.SensorModeNormal, CalibrationStatus: model.CalibrationPassed,
						BumpTestPassed: true,
					}},
				},
			}))

			e, err := newEngine(c, db, devicePath)
			require.NoError(t, err)
			require.Equal(t, tt.synchronized, e.state.Snapshot().Synchronized)

			require.NoError(t, e.exec.Discover(ctx))
			e.sched.ForceEvent(model.Diagnostics, true)

			// Heartbeat picks up the request, the next tick executes it.
			e.exec.Tick(ctx)
			e.exec.Tick(ctx)

			journals, err := store.NewJournalStore(db).List(ctx, store.JournalFilter{
				EventCode:    model.Diagnostics.Code,
				SerialNumber: "DS-0001",
			})
			require.NoError(t, err)
			require.Len(t, journals, tt.wantJournals)
			require.Equal(t, tt.wantQueued, e.sched.Forced().Len())
		})
	}
}
