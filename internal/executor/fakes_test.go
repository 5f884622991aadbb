package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/watzon/dockd/internal/action"
	"github.com/watzon/dockd/internal/config"
	"github.com/watzon/dockd/internal/dock"
	"github.com/watzon/dockd/internal/model"
)

var t0 = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeDisplay struct {
	mu          sync.Mutex
	states      []model.DisplayState
	messages    [][]string
	actions     []*action.Action
	menuActive  bool
	menuEnabled []bool
}

func (d *fakeDisplay) UpdateState(st model.DisplayState, msgs ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states = append(d.states, st)
	d.messages = append(d.messages, msgs)
}

func (d *fakeDisplay) UpdateAction(a *action.Action) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions = append(d.actions, a)
}

func (d *fakeDisplay) MenuActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.menuActive
}

func (d *fakeDisplay) SetMenuEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.menuEnabled = append(d.menuEnabled, enabled)
}

func (d *fakeDisplay) last() model.DisplayState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.states) == 0 {
		return ""
	}
	return d.states[len(d.states)-1]
}

func (d *fakeDisplay) lastMessages() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.messages) == 0 {
		return nil
	}
	return d.messages[len(d.messages)-1]
}

func (d *fakeDisplay) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.states)
}

type fakeCharger struct {
	mu    sync.Mutex
	state model.ChargingState
	code  string
}

func (c *fakeCharger) State() model.ChargingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == "" {
		return model.ChargingNotCharging
	}
	return c.state
}

func (c *fakeCharger) SetState(st model.ChargingState) {
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
}

func (c *fakeCharger) BatteryCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

func (c *fakeCharger) SetBatteryCode(code string) {
	c.mu.Lock()
	c.code = code
	c.mu.Unlock()
}

type fakeReporter struct {
	mu            sync.Mutex
	events        []*action.Event
	errors        []error
	heartbeats    int
	next          func() *action.Action
	heartbeatNext func() *action.Action
	eventErr      error
}

func (r *fakeReporter) ReportEvent(_ context.Context, ev *action.Event) (*action.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.next != nil {
		return r.next(), r.eventErr
	}
	return action.Nothing(), r.eventErr
}

func (r *fakeReporter) ReportError(_ context.Context, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
	return nil
}

func (r *fakeReporter) Heartbeat(context.Context) (*action.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats++
	if r.heartbeatNext != nil {
		return r.heartbeatNext(), nil
	}
	return action.Nothing(), nil
}

func (r *fakeReporter) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

func (r *fakeReporter) heartbeatCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heartbeats
}

// overlapMeter counts concurrent bus conversations.
type overlapMeter struct {
	cur  atomic.Int32
	peak atomic.Int32
}

func (p *overlapMeter) enter() {
	n := p.cur.Add(1)
	for {
		m := p.peak.Load()
		if n <= m || p.peak.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(100 * time.Microsecond)
	p.cur.Add(-1)
}

type fakeBus struct {
	mu         sync.Mutex
	inst       *model.Instrument
	err        error
	present    bool
	discovers  int
	powerOffs  int
	meter      *overlapMeter
	onDiscover func()
}

func (b *fakeBus) Discover(context.Context) (*model.Instrument, error) {
	if b.meter != nil {
		b.meter.enter()
	}
	if b.onDiscover != nil {
		b.onDiscover()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.discovers++
	if b.err != nil {
		return nil, b.err
	}
	return b.inst.Clone(), nil
}

func (b *fakeBus) Present(context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.present
}

func (b *fakeBus) PowerOff(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.powerOffs++
	return nil
}

func (b *fakeBus) set(inst *model.Instrument, err error, present bool) {
	b.mu.Lock()
	b.inst, b.err, b.present = inst, err, present
	b.mu.Unlock()
}

func (b *fakeBus) discoverCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.discovers
}

type fakeForced struct {
	mu       sync.Mutex
	reforced []*action.Action
	clears   int
}

func (f *fakeForced) ReforceEvent(a *action.Action) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reforced = append(f.reforced, a)
	return true
}

func (f *fakeForced) ClearQueuedActions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return 0
}

type harness struct {
	exec     *Executor
	state    *dock.State
	display  *fakeDisplay
	charger  *fakeCharger
	reporter *fakeReporter
	bus      *fakeBus
	forced   *fakeForced
	registry *Registry
	clock    *clock
	sleeps   []time.Duration
}

func testConfig() config.ExecutorConfig {
	return config.ExecutorConfig{
		TickInterval:        10 * time.Millisecond,
		PresenceInterval:    10 * time.Millisecond,
		HeartbeatInterval:   24 * time.Hour,
		IdlePowerOff:        30 * time.Minute,
		PowerOffDelay:       5 * time.Second,
		LowBatteryRetry:     20 * time.Minute,
		LowBatteryFastRetry: time.Minute,
		FastRetryTypes:      []string{"VPRO"},
	}
}

func mx6() *model.Instrument {
	return &model.Instrument{
		SerialNumber:    "MX6-0001",
		Type:            model.InstrumentMX6,
		SoftwareVersion: "4.2",
		BatteryCode:     "LI",
		Sensors: []model.Sensor{
			{SerialNumber: "S-CO", ComponentCode: "S0001", GasCode: "G0001", Symbol: "CO", Position: 1, Enabled: true, BumpTestPassed: true},
		},
	}
}

func newHarness(t *testing.T, stationType model.InstrumentType, inst *model.Instrument) *harness {
	t.Helper()

	h := &harness{
		state: dock.NewState(model.Station{
			SerialNumber:   "DS-0001",
			InstrumentType: stationType,
			Activated:      true,
			AvailableGases: []string{"G0001"},
		}, model.Account{}),
		display:  &fakeDisplay{},
		charger:  &fakeCharger{},
		reporter: &fakeReporter{},
		bus:      &fakeBus{},
		forced:   &fakeForced{},
		registry: NewRegistry(),
		clock:    &clock{now: t0},
	}
	h.state.SetSynchronized(true)
	if inst != nil {
		h.state.SetDocked(inst, t0)
		h.bus.set(inst, nil, true)
	}

	h.exec = New(Deps{
		State:    h.state,
		Forced:   h.forced,
		Reporter: h.reporter,
		Display:  h.display,
		Charger:  h.charger,
		Bus:      h.bus,
		Registry: h.registry,
	}, testConfig(),
		WithClock(h.clock.Now),
		WithSleep(func(_ context.Context, d time.Duration) { h.sleeps = append(h.sleeps, d) }),
	)
	return h
}

// register installs an operation for kind that runs fn.
func (h *harness) register(kind action.Kind, fn func(a *action.Action) (*action.Event, error)) {
	h.registry.Register(kind, func(a *action.Action) Operation {
		return OperationFunc(func(context.Context) (*action.Event, error) {
			return fn(a)
		})
	})
}

func calAction(inst *model.Instrument) *action.Action {
	return action.ForCode(model.Calibration, action.TriggerScheduled, nil, inst)
}
