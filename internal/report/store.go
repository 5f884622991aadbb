package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/watzon/dockd/internal/database"
)

// Store handles database operations for outbox records.
type Store struct {
	db *database.DB
}

// NewStore creates a new outbox store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new record.
func (s *Store) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}

	query := `
		INSERT INTO outbox (id, kind, payload, status, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		string(rec.Kind),
		string(rec.Payload),
		rec.Status,
		rec.Attempts,
		database.FormatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting outbox record: %w", err)
	}

	return nil
}

// Pending retrieves records awaiting delivery, oldest first.
func (s *Store) Pending(ctx context.Context, limit int) ([]*Record, error) {
	query, args := database.NewQuery("outbox").
		Select("id", "kind", "payload", "status", "attempts", "last_error", "created_at", "delivered_at").
		Filter("status", database.OpIn, database.In([]string{StatusPending, StatusFailed})).
		OrderBy("created_at").
		Limit(limit).
		Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying pending records: %w", err)
	}
	defer rows.Close()

	return s.scanRecords(rows)
}

// MarkDelivered marks records as delivered.
func (s *Store) MarkDelivered(ctx context.Context, ids ...string) error {
	now := database.Now()
	return s.db.Transaction(ctx, func(tx *database.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE outbox SET status = ?, delivered_at = ?, attempts = attempts + 1, last_error = NULL WHERE id = ?`,
				StatusDelivered, now, id,
			); err != nil {
				return fmt.Errorf("marking record delivered: %w", err)
			}
		}
		return nil
	})
}

// MarkFailed records a failed delivery attempt.
func (s *Store) MarkFailed(ctx context.Context, cause error, ids ...string) error {
	return s.db.Transaction(ctx, func(tx *database.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE outbox SET status = ?, attempts = attempts + 1, last_error = ? WHERE id = ?`,
				StatusFailed, cause.Error(), id,
			); err != nil {
				return fmt.Errorf("marking record failed: %w", err)
			}
		}
		return nil
	})
}

// DeleteDeliveredBefore deletes delivered records created before cutoff.
func (s *Store) DeleteDeliveredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE status = ? AND created_at < ?`,
		StatusDelivered, database.FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting delivered records: %w", err)
	}
	return result.RowsAffected()
}

// Counts returns the number of records per status.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (s *Store) scanRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record

	for rows.Next() {
		var rec Record
		var kind, payload, createdAt string
		var lastError, deliveredAt sql.NullString

		err := rows.Scan(
			&rec.ID,
			&kind,
			&payload,
			&rec.Status,
			&rec.Attempts,
			&lastError,
			&createdAt,
			&deliveredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning outbox row: %w", err)
		}

		rec.Kind = RecordKind(kind)
		rec.Payload = []byte(payload)
		rec.LastError = lastError.String

		if rec.CreatedAt, err = database.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if deliveredAt.Valid {
			t, err := database.ParseTime(deliveredAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing delivered_at: %w", err)
			}
			rec.DeliveredAt = &t
		}

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outbox rows: %w", err)
	}

	return records, nil
}
