// Package dock holds the shared view of the docking station and the instrument
// currently seated in it. The executor and discovery routine write it; every
// other component reads snapshots.
package dock

import (
	"slices"
	"sync"
	"time"

	"github.com/watzon/dockd/internal/model"
)

// Snapshot is a consistent copy of the dock state at one instant.
type Snapshot struct {
	Station                model.Station
	Account                model.Account
	Instrument             *model.Instrument // nil when nothing is docked
	DockedTime             time.Time
	Synchronized           bool // station configuration matches the server
	InstrumentSettingsRead bool
	ServerConnected        bool
}

// Docked reports whether an instrument is docked.
func (s Snapshot) Docked() bool {
	return s.Instrument != nil
}

// Location returns the station timezone.
func (s Snapshot) Location() *time.Location {
	return s.Station.Location()
}

// State is the lock-protected dock state.
type State struct {
	mu       sync.RWMutex
	station  model.Station
	account  model.Account
	inst     *model.Instrument
	docked   time.Time
	synced   bool
	settings bool
	online   bool
	replaced *ReplacedList
}

// NewState creates dock state for a station.
func NewState(station model.Station, account model.Account) *State {
	return &State{
		station:  station,
		account:  account,
		replaced: &ReplacedList{},
	}
}

// Snapshot returns a copy of the current state. The instrument is deep-copied.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	station := s.station
	station.AvailableGases = slices.Clone(s.station.AvailableGases)

	return Snapshot{
		Station:                station,
		Account:                s.account,
		Instrument:             s.inst.Clone(),
		DockedTime:             s.docked,
		Synchronized:           s.synced || !s.station.Activated,
		InstrumentSettingsRead: s.settings,
		ServerConnected:        s.online,
	}
}

// SetDocked records a newly discovered instrument. The docked time only moves
// when a different instrument is seated.
func (s *State) SetDocked(inst *model.Instrument, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inst == nil || s.inst.SerialNumber != inst.SerialNumber {
		s.docked = at
	}
	s.inst = inst.Clone()
	s.settings = true
}

// UpdateInstrument replaces the instrument snapshot without changing the docking time.
func (s *State) UpdateInstrument(inst *model.Instrument) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inst == nil {
		return
	}
	s.inst = inst.Clone()
}

// SetUndocked clears the instrument.
func (s *State) SetUndocked() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inst = nil
	s.docked = time.Time{}
	s.settings = false
}

// SetSynchronized records whether the station configuration is in sync with the server.
func (s *State) SetSynchronized(v bool) {
	s.mu.Lock()
	s.synced = v
	s.mu.Unlock()
}

// SetServerConnected records whether the server is reachable.
func (s *State) SetServerConnected(v bool) {
	s.mu.Lock()
	s.online = v
	s.mu.Unlock()
}

// SetAccount replaces the account settings.
func (s *State) SetAccount(a model.Account) {
	s.mu.Lock()
	s.account = a
	s.mu.Unlock()
}

// SetStationConfigError records a station configuration error; empty clears it.
func (s *State) SetStationConfigError(msg string) {
	s.mu.Lock()
	s.station.ConfigError = msg
	s.mu.Unlock()
}

// SetReplaced replaces the list of decommissioned equipment.
func (s *State) SetReplaced(r *ReplacedList) {
	s.mu.Lock()
	s.replaced = r
	s.mu.Unlock()
}

// Replaced reports whether the station or the docked instrument has been decommissioned.
func (s *State) Replaced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.replaced.Match(s.station.SerialNumber) {
		return true
	}
	return s.inst != nil && s.replaced.Match(s.inst.SerialNumber)
}
