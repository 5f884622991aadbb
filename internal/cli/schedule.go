package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/dockd/internal/database"
	"github.com/watzon/dockd/internal/schedule"
	"github.com/watzon/dockd/internal/store"
)

var scheduleReplace bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage maintenance schedules",
	Long: `Manage the schedules stored in the station database.

Examples:
  dockd schedule import schedules.yaml            Add schedules and journals
  dockd schedule import --replace schedules.yaml  Replace every schedule
  dockd schedule list                             List schedules`,
}

var scheduleImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import schedules and journal history from YAML",
	Long: `Import schedules and event journals from a YAML seed file.

Example:
  schedules:
    - name: Daily calibration
      event_code: CAL
      recurrence: daily
      run_at: "06:00"
    - name: Bump MX6 before shifts
      event_code: BUMP
      recurrence: weekly
      weekdays: [mon, wed, fri]
      run_at: "07:00"
      equipment_type: MX6
  journals:
    - event_code: CAL
      serial: S-CO
      instrument_serial: MX6-0001
      run_time: 2026-03-01T06:00:00Z
      passed: true`,
	Args: cobra.ExactArgs(1),
	RunE: runScheduleImport,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	RunE:  runScheduleList,
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleDelete,
}

func init() {
	scheduleImportCmd.Flags().BoolVar(&scheduleReplace, "replace", false, "Replace all existing schedules")

	scheduleCmd.AddCommand(scheduleImportCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleDeleteCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func runScheduleImport(cmd *cobra.Command, args []string) error {
	seed, err := schedule.ParseSeedFile(args[0])
	if err != nil {
		return err
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	n, j, err := importSeed(cmd.Context(), db, seed, scheduleReplace)
	if err != nil {
		return err
	}
	log.Info().Int("schedules", n).Int("journals", j).Str("file", args[0]).Msg("Seed imported")
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d schedules and %d journals\n", n, j)
	return nil
}

// importSeed stores the seed's schedules and journals.
func importSeed(ctx context.Context, db *database.DB, seed *schedule.Seed, replace bool) (int, int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	schedules, err := seed.BuildAll()
	if err != nil {
		return 0, 0, err
	}

	ss := store.NewScheduleStore(db)
	if replace {
		if err := ss.Replace(ctx, schedules); err != nil {
			return 0, 0, err
		}
	} else {
		for _, s := range schedules {
			if err := ss.Create(ctx, s); err != nil {
				if database.IsUniqueError(err) {
					return 0, 0, fmt.Errorf("schedule %q already exists (use --replace to overwrite all schedules): %w", s.Name, err)
				}
				return 0, 0, fmt.Errorf("creating schedule %q: %w", s.Name, err)
			}
		}
	}

	if len(seed.Journals) > 0 {
		if err := store.NewJournalStore(db).Record(ctx, seed.Journals...); err != nil {
			return 0, 0, err
		}
	}
	return len(schedules), len(seed.Journals), nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	schedules, err := store.NewScheduleStore(db).List(context.Background())
	if err != nil {
		return err
	}
	printSchedules(cmd.OutOrStdout(), schedules)
	return nil
}

const scheduleTableWidth = 96

func printSchedules(out io.Writer, schedules []*schedule.Schedule) {
	if len(schedules) == 0 {
		fmt.Fprintln(out, "No schedules found.")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Import some with:")
		fmt.Fprintln(out, "  dockd schedule import schedules.yaml")
		return
	}

	fmt.Fprintf(out, "%-4s %-28s %-13s %-13s %-8s %s\n", "ID", "NAME", "CODE", "RECURRENCE", "ENABLED", "SCOPE")
	fmt.Fprintln(out, strings.Repeat("-", scheduleTableWidth))
	for _, s := range schedules {
		name := s.Name
		if len(name) > 28 {
			name = name[:25] + "..."
		}
		recurrence := string(s.Recurrence)
		if s.RunAt != nil {
			recurrence += " " + s.RunAt.String()
		}
		fmt.Fprintf(out, "%-4d %-28s %-13s %-13s %-8t %s\n",
			s.RefID, name, s.EventCode.Code, recurrence, s.Enabled, formatSchedule(s))
	}
}

func runScheduleDelete(cmd *cobra.Command, args []string) error {
	var id int64
	if _, err := fmt.Sscan(args[0], &id); err != nil {
		return fmt.Errorf("invalid schedule id %q", args[0])
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.NewScheduleStore(db).Delete(context.Background(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted schedule %d\n", id)
	return nil
}
