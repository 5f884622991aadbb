package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/dockd/internal/database"
	"github.com/watzon/dockd/internal/store"
)

var (
	journalSerial string
	journalCode   string
	journalSince  string
	journalLimit  int
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect event journals",
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List event journals, newest first",
	Long: `List the event journals recorded by the station.

Examples:
  dockd journal list
  dockd journal list --serial MX6-0001 --code CAL
  dockd journal list --since 2026-03-01T00:00:00Z --limit 20`,
	RunE: runJournalList,
}

func init() {
	journalListCmd.Flags().StringVar(&journalSerial, "serial", "", "Only journals for this serial number")
	journalListCmd.Flags().StringVar(&journalCode, "code", "", "Only journals for this event code")
	journalListCmd.Flags().StringVar(&journalSince, "since", "", "Only journals at or after this time (RFC 3339)")
	journalListCmd.Flags().IntVarP(&journalLimit, "limit", "n", 50, "Maximum number of journals")

	journalCmd.AddCommand(journalListCmd)
	rootCmd.AddCommand(journalCmd)
}

const journalTableWidth = 90

func runJournalList(cmd *cobra.Command, args []string) error {
	since, err := parseTimeFlag("since", journalSince, time.Time{})
	if err != nil {
		return err
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	journals, err := store.NewJournalStore(db).List(context.Background(), store.JournalFilter{
		EventCode:    strings.ToUpper(journalCode),
		SerialNumber: journalSerial,
		Since:        since,
		Limit:        journalLimit,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(journals) == 0 {
		fmt.Fprintln(out, "No journals found.")
		return nil
	}

	fmt.Fprintf(out, "%-20s %-13s %-16s %-16s %-7s %s\n", "RUN TIME", "CODE", "SERIAL", "INSTRUMENT", "PASSED", "VERSION")
	fmt.Fprintln(out, strings.Repeat("-", journalTableWidth))
	for _, j := range journals {
		fmt.Fprintf(out, "%-20s %-13s %-16s %-16s %-7t %s\n",
			j.RunTime.Format("2006-01-02 15:04:05"), j.EventCode, j.SerialNumber,
			j.InstrumentSerialNumber, j.Passed, j.SoftwareVersion)
	}
	return nil
}
