// Package executor runs the docking station control loop: it validates the
// docked instrument, runs the pending action, exchanges heartbeats, retries
// dead batteries and powers idle instruments off.
package executor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/dockd/internal/action"
	"github.com/watzon/dockd/internal/config"
	"github.com/watzon/dockd/internal/dock"
	"github.com/watzon/dockd/internal/metrics"
	"github.com/watzon/dockd/internal/model"
)

// Deps are the collaborators an Executor drives.
type Deps struct {
	State    *dock.State
	Forced   ForcedQueue
	Reporter Reporter
	Display  Display
	Charger  Charger
	Bus      Bus
	Registry *Registry
	Gate     *Gate // shared with other bus users; created when nil
}

// Executor is the station's control loop.
type Executor struct {
	state    *dock.State
	forced   ForcedQueue
	reporter Reporter
	display  Display
	charger  Charger
	bus      Bus
	registry *Registry
	gate     *Gate
	cfg      config.ExecutorConfig
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)

	mu            sync.Mutex
	pending       *action.Action
	lastHeartbeat time.Time
	lastActivity  time.Time
	poweredOff    bool
	lastReported  string
	retryAt       time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// WithSleep replaces the pause used after powering an instrument off.
func WithSleep(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

// New creates an executor.
func New(deps Deps, cfg config.ExecutorConfig, opts ...Option) *Executor {
	e := &Executor{
		state:    deps.State,
		forced:   deps.Forced,
		reporter: deps.Reporter,
		display:  deps.Display,
		charger:  deps.Charger,
		bus:      deps.Bus,
		registry: deps.Registry,
		gate:     deps.Gate,
		cfg:      cfg,
		now:      time.Now,
		sleep:    sleepContext,
	}
	if e.gate == nil {
		e.gate = &Gate{}
	}
	if e.registry == nil {
		e.registry = NewRegistry()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Gate returns the bus gate.
func (e *Executor) Gate() *Gate {
	return e.gate
}

// Run ticks until ctx is canceled. It also runs the presence watcher.
func (e *Executor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.WatchPresence(ctx)
	}()

	log.Info().Dur("interval", e.cfg.TickInterval).Msg("Executor started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			log.Info().Msg("Executor stopped")
			return
		case <-timer.C:
			e.safeTick(ctx)
			timer.Reset(e.nextDelay())
		}
	}
}

// nextDelay is shorter while the operator is in the menu and longer while idle.
func (e *Executor) nextDelay() time.Duration {
	d := e.cfg.TickInterval
	if e.display.MenuActive() {
		return max(d/2, 10*time.Millisecond)
	}
	if e.Pending() == nil && !e.state.Snapshot().Docked() {
		return 2 * d
	}
	return d
}

func (e *Executor) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Executor tick panicked")
			metrics.RecordTick("panic")
		}
	}()
	e.Tick(ctx)
}

// Tick runs one pass of the control loop.
func (e *Executor) Tick(ctx context.Context) {
	if e.display.MenuActive() {
		metrics.RecordTick("menu")
		return
	}

	snap := e.state.Snapshot()

	if !snap.Station.Serialized() {
		e.display.UpdateState(model.DisplayUnserialized)
		metrics.RecordTick("unserialized")
		return
	}
	if snap.Station.ConfigError != "" {
		e.display.UpdateState(model.DisplayConfigurationError, snap.Station.ConfigError)
		metrics.RecordTick("config_error")
		return
	}

	if e.state.Replaced() {
		e.display.UpdateState(model.DisplayReturnEquipment)
		if e.heartbeatDue() {
			e.heartbeat(ctx)
		}
		metrics.RecordTick("replaced")
		return
	}

	pending := e.Pending()

	if snap.Instrument != nil {
		if st, msgs := validateInstrument(snap); st != "" {
			alarmYieldsToUpgrade := st == model.DisplaySystemAlarm && pending != nil &&
				pending.Kind == action.KindInstrumentFirmwareUpgrade
			if !alarmYieldsToUpgrade {
				e.display.UpdateState(st, msgs...)
				if st == model.DisplaySystemAlarm {
					e.reportOnce(ctx, &model.SystemAlarmError{SerialNumber: snap.Instrument.SerialNumber})
				}
				metrics.RecordTick("invalid")
				return
			}
		}
	}

	if pending != nil {
		e.execute(ctx, e.takePending())
		metrics.RecordTick("executed")
		return
	}

	if e.heartbeatDue() {
		e.heartbeat(ctx)
		metrics.RecordTick("heartbeat")
		return
	}

	if e.retryDeadBattery(ctx) {
		metrics.RecordTick("battery_retry")
		return
	}

	e.powerOffIdle(ctx, snap)
	metrics.RecordTick("idle")
}

// validateInstrument returns the display state for the first problem found with
// the docked instrument, or "" when it can be operated on.
func validateInstrument(snap dock.Snapshot) (model.DisplayState, []string) {
	inst := snap.Instrument

	if want := snap.Station.InstrumentType; want != "" && inst.Type != want {
		return model.DisplayUnsupportedInstrument, []string{string(inst.Type)}
	}
	if inst.SerialNumber == "" {
		return model.DisplayInstrumentNoSerial, nil
	}
	var bad []string
	for _, s := range inst.Sensors {
		if s.InErrorMode() {
			bad = append(bad, s.Symbol)
		}
	}
	if len(bad) > 0 {
		return model.DisplaySensorError, bad
	}
	if len(inst.Sensors) == 0 {
		return model.DisplayNoSensors, nil
	}
	if len(inst.EnabledSensors()) == 0 {
		return model.DisplayNoEnabledSensors, nil
	}
	if len(inst.Sensors) < inst.Type.MinimumSensors() {
		return model.DisplayInsufficientSensors, nil
	}
	if inst.FirmwareUpgradeFailed {
		return model.DisplayFirmwareUpgradeFailed, nil
	}
	if inst.SystemAlarm {
		return model.DisplaySystemAlarm, nil
	}
	return "", nil
}

// Pending returns the action waiting to run.
func (e *Executor) Pending() *action.Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

func (e *Executor) takePending() *action.Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.pending
	e.pending = nil
	return a
}

// setPending stores the next action. A pending reboot or factory reset is kept.
func (e *Executor) setPending(a *action.Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil && e.pending.Kind.Protected() {
		return
	}
	if a.IsNothing() {
		e.pending = nil
		return
	}
	e.pending = a
}

// ExecuteNow makes a the pending action. It reports false when a reboot or
// factory reset is already pending; those are never replaced.
func (e *Executor) ExecuteNow(a *action.Action) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil && e.pending.Kind.Protected() {
		log.Info().Str("pending", e.pending.String()).Str("requested", a.String()).
			Msg("Ignoring execute request, protected action pending")
		return false
	}
	e.pending = a
	log.Info().Str("action", a.String()).Msg("Action set to execute now")
	return true
}

// HeartBeat forces a heartbeat exchange on the next tick.
func (e *Executor) HeartBeat() {
	e.mu.Lock()
	e.lastHeartbeat = time.Time{}
	e.mu.Unlock()
}

func (e *Executor) heartbeatDue() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastHeartbeat.IsZero() {
		return true
	}
	now := e.now()
	return now.Before(e.lastHeartbeat) || now.Sub(e.lastHeartbeat) >= e.cfg.HeartbeatInterval
}

func (e *Executor) heartbeat(ctx context.Context) {
	release := e.gate.Enter("heartbeat")
	defer release()

	e.mu.Lock()
	e.lastHeartbeat = e.now()
	e.mu.Unlock()

	next, err := e.reporter.Heartbeat(ctx)
	if err != nil {
		e.handleReportError(ctx, err)
	}
	if next != nil {
		e.setPending(next)
	}
}

// handleReportError deals with an error returned alongside a next action.
func (e *Executor) handleReportError(ctx context.Context, err error) {
	var alarm *model.SystemAlarmError
	if errors.As(err, &alarm) {
		e.display.UpdateState(model.DisplaySystemAlarm)
		e.reportOnce(ctx, alarm)
		return
	}
	log.Error().Err(err).Msg("Reporting failed")
	e.reportOnce(ctx, err)
}

// execute runs a under the bus gate with menus locked. Charging polls skip
// while the gate is held.
func (e *Executor) execute(ctx context.Context, a *action.Action) {
	e.display.UpdateAction(a)

	factory, ok := e.registry.Lookup(a.Kind)
	if !ok {
		log.Debug().Str("action", a.String()).Msg("No operation for action")
		return
	}

	release := e.gate.Enter(string(a.Kind))
	defer release()

	e.display.SetMenuEnabled(false)
	defer e.display.SetMenuEnabled(true)

	log.Info().
		Str("action", a.String()).
		Str("trigger", string(a.Trigger)).
		Str("instrument", a.InstrumentSerial()).
		Msg("Executing action")

	e.display.UpdateState(model.DisplayBusy)
	start := e.now()
	ev, err := runOperation(ctx, factory(a))
	elapsed := e.now().Sub(start)

	e.mu.Lock()
	e.lastActivity = e.now()
	e.mu.Unlock()

	if err != nil {
		metrics.RecordAction(string(a.Kind), "failed", elapsed)
		e.handleFailure(ctx, a, err)
		return
	}
	metrics.RecordAction(string(a.Kind), "ok", elapsed)

	if ev == nil {
		ev = action.NewEvent(a)
	}
	if ev.Time.IsZero() {
		ev.Time = e.now()
	}
	ev.Duration = elapsed

	log.Info().
		Str("action", a.String()).
		Bool("passed", ev.Passed).
		Dur("duration", elapsed).
		Msg("Action completed")

	e.mu.Lock()
	e.lastReported = ""
	e.mu.Unlock()

	next, rerr := e.reporter.ReportEvent(ctx, ev)
	if rerr != nil {
		e.handleReportError(ctx, rerr)
	} else {
		e.display.UpdateState(model.DisplayReady)
	}
	if next != nil {
		e.setPending(next)
	}
}

func runOperation(ctx context.Context, op Operation) (ev *action.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op.Execute(ctx)
}

// handleFailure classifies an operation error into a display state, a retry and
// an upstream report.
func (e *Executor) handleFailure(ctx context.Context, a *action.Action, err error) {
	var (
		flow   *model.FlowError
		sensor *model.SensorError
		alarm  *model.SystemAlarmError
		hw     *model.HardwareConfigError
	)

	switch {
	case errors.As(err, &flow):
		log.Warn().Err(err).Str("action", a.String()).Str("endpoint", flow.Endpoint).Msg("Gas flow failure")
		e.forced.ReforceEvent(a)
		ev := action.NewFaultEvent(a, flow)
		ev.Time = e.now()
		st := model.DisplayFlowFault
		if flow.BadTubing {
			st = model.DisplayTubingFault
		}
		e.display.UpdateState(st, flow.Endpoint)
		next, rerr := e.reporter.ReportEvent(ctx, ev)
		if rerr != nil {
			e.handleReportError(ctx, rerr)
		}
		if next != nil {
			e.setPending(next)
		}

	case errors.Is(err, model.ErrUndocked):
		log.Warn().Str("action", a.String()).Msg("Instrument undocked during operation")
		e.mu.Lock()
		if e.pending == nil || !e.pending.Kind.Protected() {
			e.pending = nil
		}
		e.mu.Unlock()
		e.state.SetUndocked()
		e.display.UpdateState(model.DisplayUndocked)

	case errors.As(err, &sensor):
		log.Warn().Err(err).Str("action", a.String()).Msg("Sensor error during operation")
		e.display.UpdateState(model.DisplaySensorError, sensor.SerialNumber)
		e.reportOnce(ctx, err)

	case errors.As(err, &alarm):
		log.Warn().Err(err).Str("action", a.String()).Msg("System alarm during operation")
		e.display.UpdateState(model.DisplaySystemAlarm)
		e.reportOnce(ctx, err)

	case errors.As(err, &hw):
		log.Error().Err(err).Str("action", a.String()).Msg("Hardware configuration fault")
		e.display.UpdateState(model.DisplayHardwareConfigError, hw.Component)

	case errors.Is(err, model.ErrNotReady):
		log.Warn().Str("action", a.String()).Msg("Instrument not ready")
		e.display.UpdateState(model.DisplayNotReady)
		e.reportOnce(ctx, err)

	default:
		log.Error().Err(err).Str("action", a.String()).Msg("Operation failed")
		e.display.UpdateState(model.DisplayUnavailable)
		e.reportOnce(ctx, err)
	}
}

// reportOnce reports err unless it matches the last reported error.
func (e *Executor) reportOnce(ctx context.Context, err error) {
	msg := err.Error()

	e.mu.Lock()
	if msg == e.lastReported {
		e.mu.Unlock()
		return
	}
	e.lastReported = msg
	e.mu.Unlock()

	if rerr := e.reporter.ReportError(ctx, err); rerr != nil {
		log.Error().Err(rerr).Str("error", msg).Msg("Failed to report error")
	}
}

// powerOffIdle powers off an instrument nobody has used for a while.
// Rechargeable instruments stay on until charging completes.
func (e *Executor) powerOffIdle(ctx context.Context, snap dock.Snapshot) {
	if !e.idleExpired(snap) {
		return
	}

	if err := e.powerOff(ctx, snap.Instrument.SerialNumber); err != nil {
		log.Warn().Err(err).Str("instrument", snap.Instrument.SerialNumber).Msg("Failed to power off idle instrument")
		e.mu.Lock()
		e.lastActivity = e.now()
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	e.poweredOff = true
	e.mu.Unlock()
}

func (e *Executor) idleExpired(snap dock.Snapshot) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if snap.Instrument == nil {
		e.poweredOff = true
		return false
	}
	if e.poweredOff || e.cfg.IdlePowerOff <= 0 {
		return false
	}
	if e.lastActivity.IsZero() {
		e.lastActivity = e.now()
		return false
	}
	if e.now().Sub(e.lastActivity) < e.cfg.IdlePowerOff {
		return false
	}
	return !snap.Instrument.Type.Rechargeable() || e.charger.State() == model.ChargingComplete
}

func (e *Executor) powerOff(ctx context.Context, serial string) error {
	release := e.gate.Enter("power off")
	defer release()

	e.display.UpdateState(model.DisplayPoweringOff)
	if err := e.bus.PowerOff(ctx); err != nil {
		return err
	}
	log.Info().Str("instrument", serial).Msg("Idle instrument powered off")
	e.sleep(ctx, e.cfg.PowerOffDelay)
	e.display.UpdateState(model.DisplayReady)
	return nil
}

// retryInterval is the dead-battery retry period for the station's instrument family.
func (e *Executor) retryInterval() time.Duration {
	t := string(e.state.Snapshot().Station.InstrumentType)
	if slices.Contains(e.cfg.FastRetryTypes, t) {
		return e.cfg.LowBatteryFastRetry
	}
	return e.cfg.LowBatteryRetry
}
