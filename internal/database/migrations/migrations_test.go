package migrations

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestRun(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := Run(ctx, db); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	all, err := Status(ctx, db)
	if err != nil {
		t.Fatalf("Status() failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(all))
	}
	for i, m := range all {
		if m.Version != i+1 {
			t.Errorf("migration %d has version %d", i, m.Version)
		}
		if !m.Applied() {
			t.Errorf("migration %03d_%s not applied", m.Version, m.Name)
		}
	}
	if all[0].Name != "schedules" {
		t.Errorf("expected first migration to be schedules, got %q", all[0].Name)
	}
}

func TestRun_Idempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := Run(ctx, db); err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}
	if err := Run(ctx, db); err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM _dockd_migrations").Scan(&count); err != nil {
		t.Fatalf("history query failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 history rows, got %d", count)
	}
}

func TestStatus_ChecksumMismatch(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := Run(ctx, db); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if _, err := db.ExecContext(ctx, "UPDATE _dockd_migrations SET checksum = 'edited' WHERE version = 2"); err != nil {
		t.Fatal(err)
	}

	if _, err := Status(ctx, db); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	if err := Run(ctx, db); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected Run to refuse, got %v", err)
	}
}

func TestParseName(t *testing.T) {
	m, err := parseName("012_event_journals.sql")
	if err != nil {
		t.Fatal(err)
	}
	if m.Version != 12 || m.Name != "event_journals" {
		t.Errorf("unexpected migration %+v", m)
	}

	for _, bad := range []string{"schedules.sql", "abc_schedules.sql", "000_zero.sql", "001_.sql"} {
		if _, err := parseName(bad); err == nil {
			t.Errorf("parseName(%q) should fail", bad)
		}
	}
}

func TestStationTablesMigration(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := Run(ctx, db); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	tables := map[string][]string{
		"schedules": {
			"id", "name", "event_code", "recurrence", "enabled", "interval_count",
			"start_date", "run_at", "weekdays", "day_of_month", "equipment_type", "properties",
		},
		"schedule_serials":    {"schedule_id", "serial_number"},
		"schedule_components": {"schedule_id", "component_code"},
		"event_journals": {
			"event_code", "serial_number", "instrument_serial_number", "run_time",
			"passed", "software_version", "position",
		},
		"outbox": {"id", "kind", "payload", "status", "attempts", "created_at", "delivered_at"},
	}

	for table, required := range tables {
		t.Run(table, func(t *testing.T) {
			rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
			if err != nil {
				t.Fatalf("getting %s schema: %v", table, err)
			}
			defer rows.Close()

			columns := make(map[string]bool)
			for rows.Next() {
				var cid int
				var name, typ string
				var notnull, pk int
				var dfltValue sql.NullString
				if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &pk); err != nil {
					t.Fatalf("scanning column info: %v", err)
				}
				columns[name] = true
			}

			for _, col := range required {
				if !columns[col] {
					t.Errorf("%s missing required column: %s", table, col)
				}
			}
		})
	}
}

func TestStatements(t *testing.T) {
	got := statements("-- schedules\nCREATE TABLE a (\n    x TEXT\n);\n\nCREATE INDEX i ON a(x);\nSELECT 1")
	if len(got) != 3 {
		t.Fatalf("expected 3 statements, got %d: %q", len(got), got)
	}
	if got[0] != "CREATE TABLE a (\n    x TEXT\n)" {
		t.Errorf("unexpected first statement: %q", got[0])
	}
	if got[2] != "SELECT 1" {
		t.Errorf("unexpected trailing statement: %q", got[2])
	}
}
