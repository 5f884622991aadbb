// Package charging polls the docked instrument's battery and tracks the
// charging state shared with the executor.
package charging

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/dockd/internal/config"
	"github.com/watzon/dockd/internal/dock"
	"github.com/watzon/dockd/internal/executor"
	"github.com/watzon/dockd/internal/model"
)

const pollReason = "charging poll"

// Reader reads the charging status of the docked instrument over the bus.
type Reader interface {
	ReadCharging(ctx context.Context) (model.ChargingState, error)
}

// BusGate is the non-blocking side of the executor's bus lock.
type BusGate interface {
	TryEnter(reason string) (func(), bool)
	State() executor.BusState
}

// StateReader exposes the docked instrument snapshot.
type StateReader interface {
	Snapshot() dock.Snapshot
}

// Monitor is the charging collaborator. The executor owns the low-battery
// states; the poller only moves between the ordinary charging states.
type Monitor struct {
	reader Reader
	gate   BusGate
	dock   StateReader
	cfg    config.ChargingConfig

	mu          sync.RWMutex
	state       model.ChargingState
	batteryCode string
	held        bool

	polls   int
	skipped int
}

// NewMonitor creates a charging monitor.
func NewMonitor(reader Reader, gate BusGate, state StateReader, cfg config.ChargingConfig) *Monitor {
	return &Monitor{
		reader: reader,
		gate:   gate,
		dock:   state,
		cfg:    cfg,
		state:  model.ChargingNotCharging,
	}
}

func (m *Monitor) State() model.ChargingState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Monitor) SetState(st model.ChargingState) {
	m.mu.Lock()
	prev := m.state
	m.state = st
	m.mu.Unlock()

	if prev != st {
		log.Debug().Str("from", string(prev)).Str("to", string(st)).Msg("Charging state changed")
	}
}

func (m *Monitor) BatteryCode() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batteryCode
}

func (m *Monitor) SetBatteryCode(code string) {
	m.mu.Lock()
	m.batteryCode = code
	m.mu.Unlock()
}

// Paused reports whether polls are currently skipped, either because another
// activity holds the instrument bus or because polling was held with SetPaused.
func (m *Monitor) Paused() bool {
	_, paused := m.pauseReason()
	return paused
}

// SetPaused holds or resumes polling independently of the bus gate.
func (m *Monitor) SetPaused(p bool) {
	m.mu.Lock()
	m.held = p
	m.mu.Unlock()
}

func (m *Monitor) pauseReason() (string, bool) {
	m.mu.RLock()
	held := m.held
	m.mu.RUnlock()
	if held {
		return "held", true
	}
	if st := m.gate.State(); st.Busy {
		return st.Reason, true
	}
	return "", false
}

// Stats returns the number of completed and skipped polls.
func (m *Monitor) Stats() (polls, skipped int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.polls, m.skipped
}

// Run polls until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	if !m.cfg.Enabled {
		log.Info().Msg("Charging monitor disabled")
		return
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", m.cfg.PollInterval).Msg("Charging monitor started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll reads the battery once. It skips the read while the bus is in use, while
// polling is held and while the executor is retrying an unresponsive instrument.
func (m *Monitor) Poll(ctx context.Context) {
	inst := m.dock.Snapshot().Instrument
	if inst == nil || !inst.Type.Rechargeable() {
		if st := m.State(); st == model.ChargingCharging || st == model.ChargingTopping || st == model.ChargingComplete {
			m.SetState(model.ChargingNotCharging)
		}
		return
	}

	switch st := m.State(); st {
	case model.ChargingLowBatteryRetry, model.ChargingError:
		m.skip(string(st))
		return
	}
	if reason, paused := m.pauseReason(); paused {
		m.skip(reason)
		return
	}

	release, ok := m.gate.TryEnter(pollReason)
	if !ok {
		m.skip(m.gate.State().Reason)
		return
	}
	st, err := m.reader.ReadCharging(ctx)
	release()

	if err != nil {
		log.Warn().Err(err).Str("instrument", inst.SerialNumber).Msg("Failed to read charging status")
		m.skip("read failed")
		return
	}

	m.mu.Lock()
	m.polls++
	m.mu.Unlock()

	// The executor may have claimed the battery state while the read ran.
	switch m.State() {
	case model.ChargingLowBatteryRetry, model.ChargingError:
		return
	}
	m.SetState(st)
}

func (m *Monitor) skip(reason string) {
	m.mu.Lock()
	m.skipped++
	m.mu.Unlock()
	log.Debug().Str("reason", reason).Msg("Charging poll skipped")
}
