package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/dockd/internal/admin"
	"github.com/watzon/dockd/internal/charging"
	"github.com/watzon/dockd/internal/config"
	"github.com/watzon/dockd/internal/console"
	"github.com/watzon/dockd/internal/database"
	"github.com/watzon/dockd/internal/dock"
	"github.com/watzon/dockd/internal/executor"
	"github.com/watzon/dockd/internal/report"
	"github.com/watzon/dockd/internal/scheduler"
	"github.com/watzon/dockd/internal/sim"
	"github.com/watzon/dockd/internal/store"
)

var (
	runSimulate   bool
	runInstrument string
	runNoWatch    bool
	runNoDevWatch bool
)

const dbStatsInterval = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the station",
	Long: `Run the docking station engine until interrupted.

The station will:
  - Watch the dock for instruments and read them when docked
  - Decide and execute the next action on every tick
  - Poll the battery of rechargeable instruments
  - Keep an outbox of reported events and deliver it in the background
  - Serve the admin endpoints and /metrics when admin.enabled is set
  - Reload account settings and replaced equipment when the config file changes

With --simulate the instrument bus is backed by a YAML device file. Edit the
file to dock, undock or change the instrument while the station runs.`,
	RunE: runStation,
}

func init() {
	runCmd.Flags().BoolVar(&runSimulate, "simulate", false, "Use the simulated instrument bus")
	runCmd.Flags().StringVar(&runInstrument, "instrument", "instrument.yaml", "Device file for the simulated bus")
	runCmd.Flags().BoolVar(&runNoWatch, "no-watch", false, "Disable configuration hot reload")
	runCmd.Flags().BoolVar(&runNoDevWatch, "no-device-watch", false, "Only notice device file changes on the presence poll")

	rootCmd.AddCommand(runCmd)
}

func runStation(cmd *cobra.Command, args []string) error {
	if !runSimulate {
		return errNoBus
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	e, err := newEngine(cfg, db, runInstrument)
	if err != nil {
		return err
	}
	state, sched, outbox, bus, charger, exec := e.state, e.sched, e.outbox, e.bus, e.charger, e.exec

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			log.Info().Msg("Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	if !runNoWatch {
		running := cfg
		err := config.Watch(config.LoadOptions{ConfigFile: cfgFile}, func(next *config.Config) {
			applyReload(state, running, next)
		})
		switch {
		case errors.Is(err, config.ErrConfigNotFound):
			log.Debug().Msg("No configuration file, hot reload disabled")
		case err != nil:
			log.Warn().Err(err).Msg("Failed to watch configuration, continuing without hot reload")
		}
	}

	log.Info().
		Str("station", cfg.Station.SerialNumber).
		Str("instrument_type", cfg.Station.InstrumentType).
		Str("device", bus.Path()).
		Strs("operations", kindNames(e.registry)).
		Bool("synchronized", state.Snapshot().Synchronized).
		Msg("Starting station")

	outbox.Start()
	defer outbox.Stop()

	var wg sync.WaitGroup
	start := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	start(exec.Run)

	if !runNoDevWatch {
		dw, err := sim.NewDeviceWatcher(bus.Path(), func() {
			if err := exec.Discover(ctx); err != nil {
				log.Debug().Err(err).Msg("Discovery after device change failed")
			}
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to watch device file")
		} else {
			dw.Start(ctx)
			defer dw.Stop()
		}
	}
	start(charger.Run)
	start(func(ctx context.Context) { recordDBStats(ctx, db) })

	var srv *admin.Server
	if cfg.Admin.Enabled {
		srv = admin.New(cfg.Admin, admin.Deps{
			State:     state,
			Scheduler: sched,
			Executor:  exec,
			Display:   e.display,
			Charger:   charger,
			Outbox:    outbox,
		})
		go func() {
			if err := srv.Start(); err != nil {
				log.Error().Err(err).Msg("Admin server error")
				cancel()
			}
		}()
	}

	<-ctx.Done()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Admin server shutdown failed")
		}
	}
	wg.Wait()
	log.Info().Msg("Station stopped")
	return nil
}

// engine is the station as `run` wires it.
type engine struct {
	state    *dock.State
	sched    *scheduler.Scheduler
	outbox   *report.Outbox
	bus      *sim.Bus
	display  *console.Console
	charger  *charging.Monitor
	registry *executor.Registry
	exec     *executor.Executor
}

// newEngine wires the station around the simulated bus at devicePath. The
// initial sync and server state come from configuration; the admin /sync push
// and outbox deliveries update them afterwards.
func newEngine(c *config.Config, db *database.DB, devicePath string) (*engine, error) {
	state, err := newState(c)
	if err != nil {
		return nil, err
	}
	state.SetSynchronized(c.Station.Synchronized)
	state.SetServerConnected(c.Report.AssumeConnected)

	sched := scheduler.New(store.NewScheduleStore(db), store.NewJournalStore(db), state, schedulerOptions(c)...)
	outbox := report.New(db, sched, state, &report.Config{
		UploadInterval:  c.Report.UploadInterval,
		BatchSize:       c.Report.BatchSize,
		CleanupInterval: c.Report.CleanupInterval,
		Retention:       c.Report.Retention,
	}, report.WithConnectionRecorder(state))

	bus := sim.NewBus(devicePath)
	gate := &executor.Gate{}
	display := console.New()
	charger := charging.NewMonitor(bus, gate, state, c.Charging)

	registry := executor.NewRegistry()
	sim.Register(registry, bus, state, nil)

	exec := executor.New(executor.Deps{
		State:    state,
		Forced:   sched,
		Reporter: outbox,
		Display:  display,
		Charger:  charger,
		Bus:      bus,
		Registry: registry,
		Gate:     gate,
	}, c.Executor)

	return &engine{
		state:    state,
		sched:    sched,
		outbox:   outbox,
		bus:      bus,
		display:  display,
		charger:  charger,
		registry: registry,
		exec:     exec,
	}, nil
}

func recordDBStats(ctx context.Context, db *database.DB) {
	ticker := time.NewTicker(dbStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			db.RecordStats()
		}
	}
}

func kindNames(r *executor.Registry) []string {
	kinds := r.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
