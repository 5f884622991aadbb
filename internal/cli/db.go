package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/watzon/dockd/internal/database"
	"github.com/watzon/dockd/internal/database/migrations"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management commands",
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied schema migrations",
	RunE:  runDBStatus,
}

func init() {
	dbCmd.AddCommand(dbStatusCmd)
	rootCmd.AddCommand(dbCmd)
}

func runDBStatus(cmd *cobra.Command, args []string) error {
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	all, err := migrations.Status(context.Background(), db.DB)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Database: %s\n\n", cfg.Database.Path)
	fmt.Fprintf(out, "%-8s %-20s %-26s %s\n", "VERSION", "NAME", "APPLIED", "CHECKSUM")
	for _, m := range all {
		applied := "pending"
		if m.Applied() {
			applied = m.AppliedAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(out, "%03d      %-20s %-26s %s\n", m.Version, m.Name, applied, m.Checksum[:12])
	}
	return nil
}
