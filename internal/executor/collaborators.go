package executor

import (
	"context"

	"github.com/watzon/dockd/internal/action"
	"github.com/watzon/dockd/internal/model"
)

// Display is the operator-facing status surface.
type Display interface {
	UpdateState(state model.DisplayState, messages ...string)
	UpdateAction(a *action.Action)
	MenuActive() bool
	SetMenuEnabled(enabled bool)
}

// Charger is the charging monitor. It shares the bus Gate and skips its own
// hardware polls while the gate is held.
type Charger interface {
	State() model.ChargingState
	SetState(state model.ChargingState)
	BatteryCode() string
	SetBatteryCode(code string)
}

// Reporter receives results and errors and answers with the next action.
type Reporter interface {
	ReportEvent(ctx context.Context, ev *action.Event) (*action.Action, error)
	ReportError(ctx context.Context, err error) error
	Heartbeat(ctx context.Context) (*action.Action, error)
}

// Bus talks to the docked instrument.
type Bus interface {
	// Discover reads the docked instrument. It returns model.ErrUndocked when
	// nothing is seated and model.ErrInstrumentNoRespond when an instrument is
	// seated but does not answer.
	Discover(ctx context.Context) (*model.Instrument, error)
	// Present reads the dock switch. It does not talk to the instrument.
	Present(ctx context.Context) bool
	PowerOff(ctx context.Context) error
}

// ForcedQueue is the scheduler's forced-request surface.
type ForcedQueue interface {
	ReforceEvent(a *action.Action) bool
	ClearQueuedActions() int
}
