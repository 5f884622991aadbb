// Package store persists schedules and event journals in the station database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/watzon/dockd/internal/database"
	"github.com/watzon/dockd/internal/model"
	"github.com/watzon/dockd/internal/schedule"
)

var ErrNotFound = errors.New("not found")

var scheduleColumns = []string{
	"id", "name", "event_code", "recurrence", "enabled", "interval_count", "start_date",
	"run_at", "weekdays", "day_of_month", "equipment_type", "properties",
}

// ScheduleStore handles database operations for schedules.
type ScheduleStore struct {
	db *database.DB
}

func NewScheduleStore(db *database.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// Create inserts a schedule with its serial and component assignments and sets its RefID.
func (s *ScheduleStore) Create(ctx context.Context, sc *schedule.Schedule) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	return s.db.Transaction(ctx, func(tx *database.Tx) error {
		return insertSchedule(ctx, tx, sc)
	})
}

// Replace deletes every stored schedule and inserts the given ones.
func (s *ScheduleStore) Replace(ctx context.Context, schedules []*schedule.Schedule) error {
	for _, sc := range schedules {
		if err := sc.Validate(); err != nil {
			return err
		}
	}
	return s.db.Transaction(ctx, func(tx *database.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM schedules`); err != nil {
			return fmt.Errorf("clearing schedules: %w", err)
		}
		for _, sc := range schedules {
			if err := insertSchedule(ctx, tx, sc); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertSchedule(ctx context.Context, tx *database.Tx, sc *schedule.Schedule) error {
	props, err := json.Marshal(sc.Properties)
	if err != nil {
		return fmt.Errorf("marshaling properties: %w", err)
	}
	if sc.Properties == nil {
		props = []byte("{}")
	}

	var startDate, runAt sql.NullString
	if !sc.StartDate.IsZero() {
		startDate = sql.NullString{String: sc.StartDate.Format(time.DateOnly), Valid: true}
	}
	if sc.RunAt != nil {
		runAt = sql.NullString{String: sc.RunAt.String(), Valid: true}
	}

	now := database.Now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO schedules (name, event_code, recurrence, enabled, interval_count, start_date, run_at, weekdays, day_of_month, equipment_type, properties, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sc.Name,
		sc.EventCode.Code,
		string(sc.Recurrence),
		sc.Enabled,
		sc.Interval,
		startDate,
		runAt,
		formatWeekdays(sc.Weekdays),
		sc.DayOfMonth,
		sc.EquipmentType,
		string(props),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("inserting schedule %q: %w", sc.Name, database.ClassifyError(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading schedule id: %w", err)
	}

	for _, sn := range sc.SerialNumbers {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO schedule_serials (schedule_id, serial_number) VALUES (?, ?)`, id, sn); err != nil {
			return fmt.Errorf("assigning schedule to %s: %w", sn, err)
		}
	}
	for _, cc := range sc.ComponentCodes {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO schedule_components (schedule_id, component_code) VALUES (?, ?)`, id, cc); err != nil {
			return fmt.Errorf("assigning schedule to component %s: %w", cc, err)
		}
	}

	sc.RefID = id
	return nil
}

// Delete removes a schedule and its assignments.
func (s *ScheduleStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetEnabled turns a schedule on or off.
func (s *ScheduleStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE schedules SET enabled = ?, updated_at = ? WHERE id = ?`, enabled, database.Now(), id)
	if err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return nil
}

// Get retrieves a schedule by id.
func (s *ScheduleStore) Get(ctx context.Context, id int64) (*schedule.Schedule, error) {
	out, err := s.load(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return out[0], nil
}

// List retrieves all schedules.
func (s *ScheduleStore) List(ctx context.Context) ([]*schedule.Schedule, error) {
	ids, err := s.ids(ctx, `SELECT id FROM schedules`)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

// FindBySerialNumbers returns schedules assigned to any of the serial numbers.
func (s *ScheduleStore) FindBySerialNumbers(ctx context.Context, serials []string) ([]*schedule.Schedule, error) {
	if len(serials) == 0 {
		return nil, nil
	}
	ids, err := s.ids(ctx, `SELECT DISTINCT schedule_id FROM schedule_serials WHERE serial_number IN (`+placeholders(len(serials))+`)`,
		database.In(serials)...)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

// FindGlobalSchedules returns unassigned schedules that apply to every instrument type.
func (s *ScheduleStore) FindGlobalSchedules(ctx context.Context) ([]*schedule.Schedule, error) {
	ids, err := s.ids(ctx, globalQuery+` AND s.equipment_type = '' AND NOT EXISTS (SELECT 1 FROM schedule_components c WHERE c.schedule_id = s.id)`)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

// FindGlobalTypeSpecificSchedules returns unassigned schedules restricted to one equipment type.
func (s *ScheduleStore) FindGlobalTypeSpecificSchedules(ctx context.Context, equipmentType string) ([]*schedule.Schedule, error) {
	ids, err := s.ids(ctx, globalQuery+` AND s.equipment_type = ? AND NOT EXISTS (SELECT 1 FROM schedule_components c WHERE c.schedule_id = s.id)`,
		equipmentType)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

// FindByComponentCodes returns unassigned sensor schedules for any of the component codes.
func (s *ScheduleStore) FindByComponentCodes(ctx context.Context, codes []string) ([]*schedule.Schedule, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	ids, err := s.ids(ctx, globalQuery+` AND EXISTS (SELECT 1 FROM schedule_components c WHERE c.schedule_id = s.id AND c.component_code IN (`+placeholders(len(codes))+`))`,
		database.In(codes)...)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

const globalQuery = `SELECT s.id FROM schedules s WHERE NOT EXISTS (SELECT 1 FROM schedule_serials a WHERE a.schedule_id = s.id)`

func (s *ScheduleStore) ids(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning schedule id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// load reads the schedules with the given ids, ordered by id, with their assignments.
func (s *ScheduleStore) load(ctx context.Context, ids []int64) ([]*schedule.Schedule, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args := database.NewQuery("schedules").
		Select(scheduleColumns...).
		Filter("id", database.OpIn, database.In(ids)).
		OrderBy("id").
		Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	var out []*schedule.Schedule
	byID := make(map[int64]*schedule.Schedule, len(ids))
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
		byID[sc.RefID] = sc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadAssignments(ctx, "schedule_serials", "serial_number", byID, func(sc *schedule.Schedule, v string) {
		sc.SerialNumbers = append(sc.SerialNumbers, v)
	}); err != nil {
		return nil, err
	}
	if err := s.loadAssignments(ctx, "schedule_components", "component_code", byID, func(sc *schedule.Schedule, v string) {
		sc.ComponentCodes = append(sc.ComponentCodes, v)
	}); err != nil {
		return nil, err
	}

	return out, nil
}

func (s *ScheduleStore) loadAssignments(ctx context.Context, table, column string, byID map[int64]*schedule.Schedule, add func(*schedule.Schedule, string)) error {
	ids := make([]int64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	query, args := database.NewQuery(table).
		Select("schedule_id", column).
		Filter("schedule_id", database.OpIn, database.In(ids)).
		OrderBy("schedule_id").
		OrderBy(column).
		Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var v string
		if err := rows.Scan(&id, &v); err != nil {
			return fmt.Errorf("scanning %s row: %w", table, err)
		}
		if sc, ok := byID[id]; ok {
			add(sc, v)
		}
	}
	return rows.Err()
}

func scanSchedule(rows *sql.Rows) (*schedule.Schedule, error) {
	var sc schedule.Schedule
	var code, recurrence, weekdays, props string
	var startDate, runAt sql.NullString

	err := rows.Scan(
		&sc.RefID,
		&sc.Name,
		&code,
		&recurrence,
		&sc.Enabled,
		&sc.Interval,
		&startDate,
		&runAt,
		&weekdays,
		&sc.DayOfMonth,
		&sc.EquipmentType,
		&props,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning schedule row: %w", err)
	}

	ec, ok := model.LookupEventCode(code)
	if !ok {
		return nil, fmt.Errorf("schedule %d: unknown event code %q", sc.RefID, code)
	}
	sc.EventCode = ec
	sc.Recurrence = schedule.Recurrence(recurrence)

	if startDate.Valid {
		d, err := time.Parse(time.DateOnly, startDate.String)
		if err != nil {
			return nil, fmt.Errorf("parsing start_date: %w", err)
		}
		sc.StartDate = d
	}
	if runAt.Valid {
		t, err := schedule.ParseTimeOfDay(runAt.String)
		if err != nil {
			return nil, err
		}
		sc.RunAt = &t
	}
	if sc.Weekdays, err = parseWeekdays(weekdays); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(props), &sc.Properties); err != nil {
		return nil, fmt.Errorf("unmarshaling properties: %w", err)
	}
	if len(sc.Properties) == 0 {
		sc.Properties = nil
	}

	return &sc, nil
}

func formatWeekdays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func parseWeekdays(s string) ([]time.Weekday, error) {
	if s == "" {
		return nil, nil
	}
	var out []time.Weekday
	for _, p := range strings.Split(s, ",") {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 6 {
			return nil, fmt.Errorf("parsing weekdays %q", s)
		}
		out = append(out, time.Weekday(n))
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
