package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/watzon/dockd/internal/database"
	"github.com/watzon/dockd/internal/model"
)

var journalColumns = []string{
	"event_code", "serial_number", "instrument_serial_number", "run_time", "passed", "software_version", "position",
}

// JournalStore handles database operations for event journals.
type JournalStore struct {
	db *database.DB
}

func NewJournalStore(db *database.DB) *JournalStore {
	return &JournalStore{db: db}
}

// Record stores journals in a single transaction.
func (s *JournalStore) Record(ctx context.Context, journals ...model.EventJournal) error {
	if len(journals) == 0 {
		return nil
	}
	return s.db.Transaction(ctx, func(tx *database.Tx) error {
		return RecordTx(ctx, tx, journals...)
	})
}

// RecordTx stores journals inside an existing transaction.
func RecordTx(ctx context.Context, tx *database.Tx, journals ...model.EventJournal) error {
	for _, j := range journals {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO event_journals (event_code, serial_number, instrument_serial_number, run_time, passed, software_version, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			j.EventCode,
			j.SerialNumber,
			j.InstrumentSerialNumber,
			database.FormatTime(j.RunTime),
			j.Passed,
			j.SoftwareVersion,
			j.Position,
		)
		if err != nil {
			return fmt.Errorf("inserting %s journal for %s: %w", j.EventCode, j.SerialNumber, database.ClassifyError(err))
		}
	}
	return nil
}

// FindBySerialNumbers returns every journal recorded for the serial numbers.
func (s *JournalStore) FindBySerialNumbers(ctx context.Context, serials []string) (model.Journals, error) {
	if len(serials) == 0 {
		return nil, nil
	}
	return s.query(ctx, database.NewQuery("event_journals").
		Select(journalColumns...).
		Filter("serial_number", database.OpIn, database.In(serials)).
		OrderBy("run_time"))
}

// FindLastEventByInstrumentSerialNumber returns the journals of the most recent
// run of an event on an instrument, one per sensor.
func (s *JournalStore) FindLastEventByInstrumentSerialNumber(ctx context.Context, instrumentSerial, eventCode string) (model.Journals, error) {
	var last sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(run_time) FROM event_journals WHERE instrument_serial_number = ? AND event_code = ?`,
		instrumentSerial, eventCode,
	).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("querying last %s run: %w", eventCode, err)
	}
	if !last.Valid {
		return nil, nil
	}

	return s.query(ctx, database.NewQuery("event_journals").
		Select(journalColumns...).
		Where("instrument_serial_number", instrumentSerial).
		Where("event_code", eventCode).
		Where("run_time", last.String).
		OrderBy("position"))
}

// JournalFilter narrows List results. Zero fields are ignored.
type JournalFilter struct {
	EventCode    string
	SerialNumber string
	Since        time.Time
	Limit        int
}

// List returns journals matching the filter, newest first.
func (s *JournalStore) List(ctx context.Context, f JournalFilter) (model.Journals, error) {
	q := database.NewQuery("event_journals").Select(journalColumns...)
	if f.EventCode != "" {
		q.Where("event_code", f.EventCode)
	}
	if f.SerialNumber != "" {
		q.Filter("serial_number", database.OpEq, f.SerialNumber)
	}
	if !f.Since.IsZero() {
		q.Filter("run_time", database.OpGte, database.FormatTime(f.Since))
	}
	if f.Limit > 0 {
		q.Limit(f.Limit)
	}
	return s.query(ctx, q.OrderByDesc("run_time").OrderBy("serial_number"))
}

func (s *JournalStore) query(ctx context.Context, q *database.QueryBuilder) (model.Journals, error) {
	query, args := q.Build()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journals: %w", err)
	}
	defer rows.Close()

	var out model.Journals
	for rows.Next() {
		var j model.EventJournal
		var runTime string
		if err := rows.Scan(
			&j.EventCode,
			&j.SerialNumber,
			&j.InstrumentSerialNumber,
			&runTime,
			&j.Passed,
			&j.SoftwareVersion,
			&j.Position,
		); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		if j.RunTime, err = database.ParseTime(runTime); err != nil {
			return nil, fmt.Errorf("parsing run_time: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
