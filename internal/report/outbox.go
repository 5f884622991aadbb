package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/dockd/internal/action"
	"github.com/watzon/dockd/internal/database"
	"github.com/watzon/dockd/internal/dock"
	"github.com/watzon/dockd/internal/metrics"
	"github.com/watzon/dockd/internal/model"
	"github.com/watzon/dockd/internal/store"
)

// Decider chooses the next action after each report.
type Decider interface {
	GetNextAction(ctx context.Context, last *action.Event) (*action.Action, error)
	NextDue(code string) (time.Time, bool)
}

// StateReader supplies the dock snapshot included with heartbeats.
type StateReader interface {
	Snapshot() dock.Snapshot
}

// ConnectionRecorder is told whether the server accepted the last delivery.
type ConnectionRecorder interface {
	SetServerConnected(connected bool)
}

// Uploader delivers outbox records upstream.
type Uploader interface {
	Upload(ctx context.Context, records []*Record) error
}

// Config holds outbox settings.
type Config struct {
	// UploadInterval is how often pending records are handed to the uploader (default: 10 seconds).
	UploadInterval time.Duration
	// BatchSize is the number of records per upload (default: 50).
	BatchSize int
	// CleanupInterval is how often delivered records are purged (default: 1 hour).
	CleanupInterval time.Duration
	// Retention is how long delivered records are kept (default: 7 days).
	Retention time.Duration
}

func (c *Config) withDefaults() Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.UploadInterval == 0 {
		out.UploadInterval = 10 * time.Second
	}
	if out.BatchSize == 0 {
		out.BatchSize = 50
	}
	if out.CleanupInterval == 0 {
		out.CleanupInterval = time.Hour
	}
	if out.Retention == 0 {
		out.Retention = 7 * 24 * time.Hour
	}
	return out
}

// Outbox records what the executor reports and returns the scheduler's next action.
type Outbox struct {
	store    *Store
	journals *store.JournalStore
	decider  Decider
	state    StateReader
	uploader Uploader
	conn     ConnectionRecorder
	cfg      Config
	now      func() time.Time

	connMu sync.Mutex
	online *bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures an Outbox.
type Option func(*Outbox)

// WithUploader sets the uploader. The default logs each record.
func WithUploader(u Uploader) Option {
	return func(o *Outbox) {
		o.uploader = u
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Outbox) {
		o.now = now
	}
}

// WithConnectionRecorder reports the outcome of every delivery attempt to r.
func WithConnectionRecorder(r ConnectionRecorder) Option {
	return func(o *Outbox) {
		o.conn = r
	}
}

// New creates an outbox.
func New(db *database.DB, decider Decider, state StateReader, cfg *Config, opts ...Option) *Outbox {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Outbox{
		store:    NewStore(db),
		journals: store.NewJournalStore(db),
		decider:  decider,
		state:    state,
		uploader: LogUploader{},
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Store returns the outbox record store.
func (o *Outbox) Store() *Store {
	return o.store
}

// ReportEvent records the event's journals, asks the scheduler for the next
// action, and queues the event for delivery. A system alarm refusal from the
// scheduler is returned alongside the nothing action.
func (o *Outbox) ReportEvent(ctx context.Context, ev *action.Event) (*action.Action, error) {
	if err := o.journals.Record(ctx, ev.Journals...); err != nil {
		return nil, fmt.Errorf("recording journals: %w", err)
	}

	next, decideErr := o.decider.GetNextAction(ctx, ev)

	payload := EventPayload{
		EventID:            ev.ID,
		EventCode:          ev.Code.Code,
		Instrument:         ev.InstrumentSerialNumber,
		Time:               ev.Time,
		DurationMS:         ev.Duration.Milliseconds(),
		Passed:             ev.Passed,
		Fault:              string(ev.Fault),
		FaultEndpoint:      ev.FaultEndpoint,
		Errors:             ev.Errors,
		Journals:           ev.Journals,
		NextCalibrationDue: o.nextDue(model.Calibration),
		NextBumpDue:        o.nextDue(model.BumpTest),
	}
	if ev.Action != nil {
		payload.ActionKind = string(ev.Action.Kind)
		payload.Trigger = string(ev.Action.Trigger)
	}
	if err := o.enqueue(ctx, KindEvent, payload); err != nil {
		log.Error().Err(err).Str("event_id", ev.ID).Msg("Failed to queue event")
	}

	log.Info().
		Str("event_id", ev.ID).
		Str("code", ev.Code.Code).
		Str("instrument", ev.InstrumentSerialNumber).
		Bool("passed", ev.Passed).
		Str("fault", string(ev.Fault)).
		Int("journals", len(ev.Journals)).
		Str("next", next.String()).
		Msg("Event reported")

	return next, decideErr
}

// ReportError queues an error for delivery.
func (o *Outbox) ReportError(ctx context.Context, reported error) error {
	if reported == nil {
		return nil
	}
	if err := o.enqueue(ctx, KindError, ErrorPayload{Message: reported.Error(), Time: o.now().UTC()}); err != nil {
		return err
	}
	metrics.RecordErrorReported()
	log.Warn().Err(reported).Msg("Error reported")
	return nil
}

// Heartbeat queues a heartbeat and returns the scheduler's next action.
func (o *Outbox) Heartbeat(ctx context.Context) (*action.Action, error) {
	next, decideErr := o.decider.GetNextAction(ctx, nil)

	payload := HeartbeatPayload{
		Time:               o.now().UTC(),
		NextCalibrationDue: o.nextDue(model.Calibration),
		NextBumpDue:        o.nextDue(model.BumpTest),
	}
	if o.state != nil {
		snap := o.state.Snapshot()
		payload.Station = snap.Station.SerialNumber
		if snap.Instrument != nil {
			payload.Instrument = snap.Instrument.SerialNumber
		}
	}
	if err := o.enqueue(ctx, KindHeartbeat, payload); err != nil {
		log.Error().Err(err).Msg("Failed to queue heartbeat")
	}
	metrics.RecordHeartbeat()

	log.Debug().Str("next", next.String()).Msg("Heartbeat sent")
	return next, decideErr
}

func (o *Outbox) nextDue(code model.EventCode) *time.Time {
	t, ok := o.decider.NextDue(code.Code)
	if !ok {
		return nil
	}
	return &t
}

func (o *Outbox) enqueue(ctx context.Context, kind RecordKind, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", kind, err)
	}
	return o.store.Create(ctx, &Record{Kind: kind, Payload: data, CreatedAt: o.now().UTC()})
}

// Counts returns the number of outbox records per status.
func (o *Outbox) Counts(ctx context.Context) (map[string]int, error) {
	return o.store.Counts(ctx)
}

// Start begins background delivery and cleanup.
func (o *Outbox) Start() {
	o.wg.Add(2)
	go o.uploadLoop(o.ctx, o.cfg.UploadInterval)
	go o.cleanupLoop(o.ctx, o.cfg.CleanupInterval)
}

// Stop gracefully shuts down background processing.
func (o *Outbox) Stop() {
	o.cancel()
	o.wg.Wait()
}

// Flush hands one batch of pending records to the uploader and returns how many were delivered.
func (o *Outbox) Flush(ctx context.Context) (int, error) {
	records, err := o.store.Pending(ctx, o.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("getting pending records: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}

	uploadErr := o.uploader.Upload(ctx, records)
	o.recordConnection(uploadErr == nil)
	if uploadErr != nil {
		if err := o.store.MarkFailed(ctx, uploadErr, ids...); err != nil {
			return 0, errors.Join(uploadErr, err)
		}
		return 0, fmt.Errorf("uploading records: %w", uploadErr)
	}

	if err := o.store.MarkDelivered(ctx, ids...); err != nil {
		return 0, err
	}
	return len(records), nil
}

func (o *Outbox) recordConnection(connected bool) {
	if o.conn == nil {
		return
	}
	o.conn.SetServerConnected(connected)

	o.connMu.Lock()
	changed := o.online == nil || *o.online != connected
	o.online = &connected
	o.connMu.Unlock()
	if changed {
		log.Info().Bool("connected", connected).Msg("Server connection changed")
	}
}

// Cleanup removes delivered records older than the retention window.
func (o *Outbox) Cleanup(ctx context.Context) (int64, error) {
	return o.store.DeleteDeliveredBefore(ctx, o.now().Add(-o.cfg.Retention))
}

func (o *Outbox) uploadLoop(ctx context.Context, interval time.Duration) {
	defer o.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := o.Flush(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to deliver outbox records")
				continue
			}
			if n > 0 {
				log.Debug().Int("count", n).Msg("Outbox records delivered")
			}
		}
	}
}

func (o *Outbox) cleanupLoop(ctx context.Context, interval time.Duration) {
	defer o.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := o.Cleanup(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup outbox")
				continue
			}
			if n > 0 {
				log.Debug().Int64("count", n).Msg("Outbox cleaned up")
			}
		}
	}
}
