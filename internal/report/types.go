// Package report is the station's local reporting collaborator. It records event
// journals, keeps an outbox of everything reported for later delivery, and asks
// the scheduler for the next action.
package report

import (
	"encoding/json"
	"time"

	"github.com/watzon/dockd/internal/model"
)

// RecordKind is the type of an outbox record.
type RecordKind string

const (
	KindEvent     RecordKind = "event"
	KindError     RecordKind = "error"
	KindHeartbeat RecordKind = "heartbeat"
)

// Outbox record statuses.
const (
	StatusPending   = "pending"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Record is one entry in the outbox.
type Record struct {
	ID          string
	Kind        RecordKind
	Payload     json.RawMessage
	Status      string
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// EventPayload is the outbox form of a result event.
type EventPayload struct {
	EventID            string         `json:"event_id"`
	EventCode          string         `json:"event_code,omitempty"`
	ActionKind         string         `json:"action_kind,omitempty"`
	Trigger            string         `json:"trigger,omitempty"`
	Instrument         string         `json:"instrument,omitempty"`
	Time               time.Time      `json:"time"`
	DurationMS         int64          `json:"duration_ms"`
	Passed             bool           `json:"passed"`
	Fault              string         `json:"fault,omitempty"`
	FaultEndpoint      string         `json:"fault_endpoint,omitempty"`
	Errors             []string       `json:"errors,omitempty"`
	Journals           model.Journals `json:"journals,omitempty"`
	NextCalibrationDue *time.Time     `json:"next_calibration_due,omitempty"`
	NextBumpDue        *time.Time     `json:"next_bump_due,omitempty"`
}

// ErrorPayload is the outbox form of a reported error.
type ErrorPayload struct {
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// HeartbeatPayload is the outbox form of a heartbeat.
type HeartbeatPayload struct {
	Station            string     `json:"station,omitempty"`
	Instrument         string     `json:"instrument,omitempty"`
	Time               time.Time  `json:"time"`
	NextCalibrationDue *time.Time `json:"next_calibration_due,omitempty"`
	NextBumpDue        *time.Time `json:"next_bump_due,omitempty"`
}
