package model

import "time"

// EventJournal records one past run of an event for one serial number.
type EventJournal struct {
	EventCode              string    `json:"event_code" yaml:"event_code"`
	SerialNumber           string    `json:"serial_number" yaml:"serial"`
	InstrumentSerialNumber string    `json:"instrument_serial_number,omitempty" yaml:"instrument_serial"`
	RunTime                time.Time `json:"run_time" yaml:"run_time"`
	Passed                 bool      `json:"passed" yaml:"passed"`
	SoftwareVersion        string    `json:"software_version,omitempty" yaml:"software_version"`
	Position               int       `json:"position,omitempty" yaml:"position"`
}

// Journals is a list of event journals with lookup helpers.
type Journals []EventJournal

// Last returns the most recent journal for the code and serial number.
func (js Journals) Last(code, serial string) (EventJournal, bool) {
	var best EventJournal
	found := false
	for _, j := range js {
		if j.EventCode != code || j.SerialNumber != serial {
			continue
		}
		if !found || j.RunTime.After(best.RunTime) {
			best = j
			found = true
		}
	}
	return best, found
}

// LastAtVersion returns the most recent journal for the code and serial number
// recorded while the equipment ran the given software version. Journals without
// a recorded version match any version.
func (js Journals) LastAtVersion(code, serial, version string) (EventJournal, bool) {
	var best EventJournal
	found := false
	for _, j := range js {
		if j.EventCode != code || j.SerialNumber != serial || j.Stale(version) {
			continue
		}
		if !found || j.RunTime.After(best.RunTime) {
			best = j
			found = true
		}
	}
	return best, found
}

// Stale reports whether the journal was recorded under a different software version.
func (j EventJournal) Stale(currentVersion string) bool {
	return j.SoftwareVersion != "" && j.SoftwareVersion != currentVersion
}
