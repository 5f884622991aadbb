package executor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/dockd/internal/model"
)

// Discover reads the docked instrument and updates the dock state. It shares
// the bus gate with execution, so it waits for any running operation.
func (e *Executor) Discover(ctx context.Context) error {
	release := e.gate.Enter("discovery")
	defer release()
	return e.discover(ctx)
}

func (e *Executor) discover(ctx context.Context) error {
	if n := e.forced.ClearQueuedActions(); n > 0 {
		log.Debug().Int("count", n).Msg("Dropped forced requests from previous docking")
	}

	inst, err := e.bus.Discover(ctx)
	switch {
	case errors.Is(err, model.ErrUndocked), err == nil && inst == nil:
		e.undocked()
		return nil

	case errors.Is(err, model.ErrInstrumentNoRespond):
		e.lowBattery(ctx)
		return err

	case err != nil:
		log.Error().Err(err).Msg("Instrument discovery failed")
		e.display.UpdateState(model.DisplayUnavailable)
		e.reportOnce(ctx, err)
		return err
	}

	now := e.now()
	e.state.SetDocked(inst, now)
	e.charger.SetBatteryCode(inst.BatteryCode)
	if st := e.charger.State(); st == model.ChargingLowBatteryRetry || st == model.ChargingError {
		e.charger.SetState(model.ChargingNotCharging)
	}

	e.mu.Lock()
	e.lastActivity = now
	e.poweredOff = false
	e.retryAt = time.Time{}
	e.lastHeartbeat = time.Time{}
	e.mu.Unlock()

	e.display.UpdateState(model.DisplayReady)
	log.Info().
		Str("instrument", inst.SerialNumber).
		Str("type", string(inst.Type)).
		Str("version", inst.SoftwareVersion).
		Int("sensors", len(inst.Sensors)).
		Msg("Instrument discovered")
	return nil
}

func (e *Executor) undocked() {
	wasDocked := e.state.Snapshot().Docked()
	e.state.SetUndocked()
	e.charger.SetState(model.ChargingNotCharging)
	e.charger.SetBatteryCode("")

	e.mu.Lock()
	if e.pending != nil && !e.pending.Kind.Protected() {
		e.pending = nil
	}
	e.retryAt = time.Time{}
	e.poweredOff = true
	e.mu.Unlock()

	e.display.UpdateState(model.DisplayUndocked)
	if wasDocked {
		log.Info().Msg("Instrument undocked")
	}
}

// lowBattery handles an instrument that is seated but does not answer. The
// first failure starts the retry window; a failure after the window has
// elapsed escalates to a charging error.
func (e *Executor) lowBattery(ctx context.Context) {
	now := e.now()

	switch e.charger.State() {
	case model.ChargingLowBatteryRetry:
		e.charger.SetState(model.ChargingError)
		e.display.UpdateState(model.DisplayChargingError)
		log.Error().Msg("Instrument still unresponsive after low battery retry")
		e.reportOnce(ctx, errDeadBattery)
	case model.ChargingError:
		e.display.UpdateState(model.DisplayChargingError)
	default:
		e.charger.SetState(model.ChargingLowBatteryRetry)
		e.display.UpdateState(model.DisplayLowBattery)
		log.Warn().Dur("retry_in", e.retryInterval()).Msg("Instrument not responding, assuming low battery")
	}

	e.mu.Lock()
	e.retryAt = now
	e.mu.Unlock()
}

var errDeadBattery = errors.New("instrument battery cannot power the instrument")

// retryDeadBattery rediscovers an unresponsive instrument once the retry
// interval has passed. It reports whether a retry was attempted.
func (e *Executor) retryDeadBattery(ctx context.Context) bool {
	st := e.charger.State()
	if st != model.ChargingLowBatteryRetry && st != model.ChargingError {
		return false
	}

	e.mu.Lock()
	due := !e.retryAt.IsZero() && e.now().Sub(e.retryAt) >= e.retryInterval()
	e.mu.Unlock()
	if !due {
		return false
	}

	log.Info().Str("state", string(st)).Msg("Retrying unresponsive instrument")
	_ = e.Discover(ctx)
	return true
}

// WatchPresence polls the dock switch and runs discovery whenever it disagrees
// with the dock state.
func (e *Executor) WatchPresence(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PresenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.checkPresence(ctx)
		}
	}
}

func (e *Executor) checkPresence(ctx context.Context) {
	present := e.bus.Present(ctx)
	docked := e.state.Snapshot().Docked()
	if present == docked {
		return
	}

	st := e.charger.State()
	if present && (st == model.ChargingLowBatteryRetry || st == model.ChargingError) {
		return
	}

	if err := e.Discover(ctx); err != nil {
		log.Debug().Err(err).Msg("Discovery after presence change failed")
	}
}
