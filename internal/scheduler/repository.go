package scheduler

import (
	"context"

	"github.com/watzon/dockd/internal/dock"
	"github.com/watzon/dockd/internal/model"
	"github.com/watzon/dockd/internal/schedule"
)

// ScheduleRepository is the read side of schedule persistence.
type ScheduleRepository interface {
	// FindBySerialNumbers returns schedules assigned to any of the serial numbers.
	FindBySerialNumbers(ctx context.Context, serials []string) ([]*schedule.Schedule, error)
	// FindGlobalSchedules returns unassigned schedules that apply to all equipment.
	FindGlobalSchedules(ctx context.Context) ([]*schedule.Schedule, error)
	// FindGlobalTypeSpecificSchedules returns unassigned schedules for one instrument family.
	FindGlobalTypeSpecificSchedules(ctx context.Context, equipmentType string) ([]*schedule.Schedule, error)
	// FindByComponentCodes returns unassigned schedules for any of the sensor types.
	FindByComponentCodes(ctx context.Context, codes []string) ([]*schedule.Schedule, error)
}

// JournalRepository is the read side of event journal persistence.
type JournalRepository interface {
	// FindBySerialNumbers returns every journal whose subject is one of the serial numbers.
	FindBySerialNumbers(ctx context.Context, serials []string) (model.Journals, error)
	// FindLastEventByInstrumentSerialNumber returns the journals written by the most
	// recent run of eventCode on the instrument.
	FindLastEventByInstrumentSerialNumber(ctx context.Context, instrumentSerial, eventCode string) (model.Journals, error)
}

// StateReader provides dock snapshots.
type StateReader interface {
	Snapshot() dock.Snapshot
}
