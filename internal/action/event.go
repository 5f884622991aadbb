package action

import (
	"time"

	"github.com/google/uuid"

	"github.com/watzon/dockd/internal/model"
)

// Fault marks result events that replace a normal operation event.
type Fault string

const (
	FaultNone   Fault = ""
	FaultFlow   Fault = "flow"
	FaultTubing Fault = "tubing"
)

// Event is the result of executing an action.
type Event struct {
	ID                     string
	Code                   model.EventCode // zero for events with no event code
	Action                 *Action
	InstrumentSerialNumber string
	Time                   time.Time
	Duration               time.Duration
	Passed                 bool
	Journals               model.Journals // one per subject serial number touched
	Fault                  Fault
	FaultEndpoint          string
	Errors                 []string
	FollowUp               *Action // immediate follow-up requested by the operation
}

// NewEvent creates a result event for the action.
func NewEvent(a *Action) *Event {
	ev := &Event{
		ID:     uuid.New().String(),
		Action: a,
	}
	if a != nil {
		ev.Code = a.EventCode
		ev.InstrumentSerialNumber = a.InstrumentSerial()
	}
	return ev
}

// NewFaultEvent creates the event reported in place of an operation that hit a gas flow failure.
func NewFaultEvent(a *Action, fe *model.FlowError) *Event {
	ev := NewEvent(a)
	ev.Code = model.EventCode{}
	ev.Fault = FaultFlow
	if fe.BadTubing {
		ev.Fault = FaultTubing
	}
	ev.FaultEndpoint = fe.Endpoint
	ev.Errors = append(ev.Errors, fe.Error())
	return ev
}

// HasJournal reports whether the event carries a journal for the given code.
func (e *Event) HasJournal(code string) bool {
	if e == nil {
		return false
	}
	for _, j := range e.Journals {
		if j.EventCode == code {
			return true
		}
	}
	return false
}
