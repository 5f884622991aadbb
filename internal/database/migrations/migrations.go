// Package migrations applies the embedded schema migrations for the station database.
//
// Files under sql/ are named NNN_description.sql. The numeric prefix is the
// schema version; files are applied in version order and each one is recorded
// with a checksum so that an edited migration is detected on the next start.
package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

//go:embed sql/*.sql
var sqlFS embed.FS

// ErrChecksumMismatch is returned when an applied migration no longer matches its file.
var ErrChecksumMismatch = errors.New("migration was modified after it was applied")

// Migration is an embedded migration and, once applied, when it ran.
type Migration struct {
	Version   int
	Name      string
	Checksum  string
	AppliedAt time.Time // zero when pending
	statement string
}

// Applied reports whether the migration has run.
func (m Migration) Applied() bool {
	return !m.AppliedAt.IsZero()
}

const historyTable = `CREATE TABLE IF NOT EXISTS _dockd_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at TEXT NOT NULL
)`

type record struct {
	checksum  string
	appliedAt time.Time
}

// Run applies every pending migration, each in its own transaction.
func Run(ctx context.Context, db *sql.DB) error {
	all, err := Status(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range all {
		if m.Applied() {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("applying migration %03d_%s: %w", m.Version, m.Name, err)
		}
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Applied migration")
	}
	return nil
}

// Status returns every embedded migration in version order with its applied time.
// It fails if an applied migration's checksum differs from the embedded file.
func Status(ctx context.Context, db *sql.DB) ([]Migration, error) {
	if _, err := db.ExecContext(ctx, historyTable); err != nil {
		return nil, fmt.Errorf("creating migration history: %w", err)
	}

	history, err := loadHistory(ctx, db)
	if err != nil {
		return nil, err
	}
	all, err := embedded()
	if err != nil {
		return nil, err
	}

	for i, m := range all {
		rec, ok := history[m.Version]
		if !ok {
			continue
		}
		if rec.checksum != m.Checksum {
			return nil, fmt.Errorf("%03d_%s: %w", m.Version, m.Name, ErrChecksumMismatch)
		}
		all[i].AppliedAt = rec.appliedAt
	}
	return all, nil
}

func loadHistory(ctx context.Context, db *sql.DB) (map[int]record, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, checksum, applied_at FROM _dockd_migrations`)
	if err != nil {
		return nil, fmt.Errorf("reading migration history: %w", err)
	}
	defer rows.Close()

	out := make(map[int]record)
	for rows.Next() {
		var (
			version   int
			rec       record
			appliedAt string
		)
		if err := rows.Scan(&version, &rec.checksum, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning migration history: %w", err)
		}
		rec.appliedAt, err = time.Parse(time.RFC3339Nano, appliedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing applied_at for version %d: %w", version, err)
		}
		out[version] = rec
	}
	return out, rows.Err()
}

func embedded() ([]Migration, error) {
	entries, err := fs.ReadDir(sqlFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		m, err := parseName(entry.Name())
		if err != nil {
			return nil, err
		}
		data, err := fs.ReadFile(sqlFS, "sql/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		sum := sha256.Sum256(data)
		m.Checksum = hex.EncodeToString(sum[:])
		m.statement = string(data)
		out = append(out, m)
	}

	slices.SortFunc(out, func(a, b Migration) int { return a.Version - b.Version })
	for i := 1; i < len(out); i++ {
		if out[i].Version == out[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d", out[i].Version)
		}
	}
	return out, nil
}

// parseName splits "001_schedules.sql" into version 1 and name "schedules".
func parseName(file string) (Migration, error) {
	prefix, name, ok := strings.Cut(strings.TrimSuffix(file, ".sql"), "_")
	if !ok || name == "" {
		return Migration{}, fmt.Errorf("migration %q: expected NNN_name.sql", file)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return Migration{}, fmt.Errorf("migration %q: invalid version %q", file, prefix)
	}
	return Migration{Version: version, Name: name}, nil
}

func apply(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range statements(m.statement) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing %q: %w", firstLine(stmt), err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO _dockd_migrations (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)`,
		m.Version, m.Name, m.Checksum, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

// statements drops comment lines and splits the file on semicolons that end a line.
func statements(content string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		if body, ok := strings.CutSuffix(trimmed, ";"); ok {
			cur.WriteString(body)
			flush()
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	flush()
	return out
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}
