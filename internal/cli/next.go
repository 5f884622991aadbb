package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/dockd/internal/database"
	"github.com/watzon/dockd/internal/model"
	"github.com/watzon/dockd/internal/scheduler"
	"github.com/watzon/dockd/internal/sim"
	"github.com/watzon/dockd/internal/store"
)

var (
	nextInstrument string
	nextAt         string
	nextDockedAt   string
	nextOffline    bool
)

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show the next action for an instrument",
	Long: `Decide the next action for the instrument in a device file without
running anything.

Schedules and journals are read from the station database. The decision is
made as if the instrument was docked at --docked-at (default: --at) and the
clock reads --at (default: now).

Examples:
  dockd next --instrument instrument.yaml
  dockd next --instrument instrument.yaml --at 2026-03-03T09:00:00Z`,
	RunE: runNext,
}

func init() {
	nextCmd.Flags().StringVar(&nextInstrument, "instrument", "", "Device file describing the docked instrument (empty for none)")
	nextCmd.Flags().StringVar(&nextAt, "at", "", "Decision time (RFC 3339, default now)")
	nextCmd.Flags().StringVar(&nextDockedAt, "docked-at", "", "Docking time (RFC 3339, default --at)")
	nextCmd.Flags().BoolVar(&nextOffline, "offline", false, "Decide as if the server were unreachable")

	rootCmd.AddCommand(nextCmd)
}

func parseTimeFlag(name, value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return t, nil
}

func runNext(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	at, err := parseTimeFlag("at", nextAt, time.Now())
	if err != nil {
		return err
	}
	dockedAt, err := parseTimeFlag("docked-at", nextDockedAt, at)
	if err != nil {
		return err
	}

	state, err := newState(cfg)
	if err != nil {
		return err
	}
	state.SetSynchronized(true)
	state.SetServerConnected(!nextOffline)

	var inst *model.Instrument
	if nextInstrument != "" {
		d, err := sim.NewBus(nextInstrument).Load()
		if err != nil {
			return err
		}
		if d == nil {
			return fmt.Errorf("device file not found: %s", nextInstrument)
		}
		inst = d.Instrument.Clone()
		state.SetDocked(inst, dockedAt)
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	opts := append(schedulerOptions(cfg), scheduler.WithClock(func() time.Time { return at }))
	sched := scheduler.New(store.NewScheduleStore(db), store.NewJournalStore(db), state, opts...)

	a, decideErr := sched.GetNextAction(ctx, nil)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Decision time: %s\n", at.Format(time.RFC3339))
	if inst != nil {
		fmt.Fprintf(out, "Instrument:    %s (%s, firmware %s)\n", inst.SerialNumber, inst.Type, inst.SoftwareVersion)
	} else {
		fmt.Fprintln(out, "Instrument:    none")
	}
	fmt.Fprintf(out, "Next action:   %s\n", a.String())
	if !a.EventCode.IsZero() {
		fmt.Fprintf(out, "Event code:    %s (%s)\n", a.EventCode.Code, a.Trigger)
	}
	if a.Schedule != nil && a.Schedule.Persisted() {
		fmt.Fprintf(out, "Schedule:      #%d %s\n", a.Schedule.RefID, a.Schedule.Name)
	}
	if len(a.Messages) > 0 {
		fmt.Fprintf(out, "Messages:      %v\n", a.Messages)
	}
	if decideErr != nil {
		fmt.Fprintf(out, "Error:         %v\n", decideErr)
	}

	req := sched.Requirements()
	if req.Any() {
		fmt.Fprintf(out, "Requirements:  diagnostics=%t calibration=%t bump=%t\n", req.Diagnostics, req.Calibration, req.BumpTest)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%-14s %s\n", "CODE", "NEXT DUE")
	for _, code := range model.AllEventCodes() {
		if t, ok := sched.NextDue(code.Code); ok {
			fmt.Fprintf(out, "%-14s %s\n", code.Code, t.In(state.Snapshot().Location()).Format("2006-01-02 15:04 MST"))
		}
	}
	return nil
}
