package cli

import (
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/watzon/dockd/internal/config"
	"github.com/watzon/dockd/internal/dock"
	"github.com/watzon/dockd/internal/model"
	"github.com/watzon/dockd/internal/schedule"
	"github.com/watzon/dockd/internal/scheduler"
)

func stationFromConfig(c *config.Config) (model.Station, error) {
	loc, err := c.Station.Location()
	if err != nil {
		return model.Station{}, fmt.Errorf("loading station timezone: %w", err)
	}
	return model.Station{
		SerialNumber:    c.Station.SerialNumber,
		InstrumentType:  model.InstrumentType(c.Station.InstrumentType),
		SoftwareVersion: c.Station.SoftwareVersion,
		Activated:       c.Station.Activated,
		AvailableGases:  slices.Clone(c.Station.AvailableGases),
		Timezone:        loc,
	}, nil
}

func accountFromConfig(c *config.Config) model.Account {
	return model.Account{
		Manufacturing:               c.Account.Manufacturing,
		StopOnFailedBump:            c.Account.StopOnFailedBump,
		ContinueGasOpsDuringUpgrade: c.Account.ContinueGasOpsDuringUpgrade,
	}
}

// newState builds the shared dock state from configuration.
func newState(c *config.Config) (*dock.State, error) {
	station, err := stationFromConfig(c)
	if err != nil {
		return nil, err
	}
	state := dock.NewState(station, accountFromConfig(c))

	replaced, err := dock.NewReplacedList(c.Station.ReplacedEquipment)
	if err != nil {
		return nil, err
	}
	state.SetReplaced(replaced)
	return state, nil
}

func schedulerOptions(c *config.Config) []scheduler.Option {
	opts := []scheduler.Option{
		scheduler.WithDualSenseMinVersion(c.Scheduler.DualSenseMinVersion),
	}
	if code, ok := model.LookupEventCode(c.Scheduler.CalStationEventCode); ok {
		s := scheduler.DefaultCalStationSchedule()
		s.Name = "Run " + code.Code + " on docking"
		s.EventCode = code
		opts = append(opts, scheduler.WithCalStationSchedules(s))
	}
	return opts
}

// applyReload pushes the settings that can change at runtime into state. Station
// identity changes need a restart and are surfaced as a configuration error.
func applyReload(state *dock.State, running, next *config.Config) {
	state.SetAccount(accountFromConfig(next))

	replaced, err := dock.NewReplacedList(next.Station.ReplacedEquipment)
	if err != nil {
		log.Warn().Err(err).Msg("Ignoring replaced equipment change")
	} else {
		state.SetReplaced(replaced)
	}

	if next.Station.SerialNumber != running.Station.SerialNumber ||
		next.Station.InstrumentType != running.Station.InstrumentType {
		state.SetStationConfigError("Station settings changed, restart required")
		log.Warn().
			Str("serial", next.Station.SerialNumber).
			Str("instrument_type", next.Station.InstrumentType).
			Msg("Station identity changed, restart required")
		return
	}
	state.SetStationConfigError("")
}

func formatSchedule(s *schedule.Schedule) string {
	scope := "global"
	switch {
	case len(s.SerialNumbers) > 0:
		scope = fmt.Sprintf("%v", s.SerialNumbers)
	case s.EquipmentType != "":
		scope = s.EquipmentType
	}
	if len(s.ComponentCodes) > 0 {
		scope += fmt.Sprintf(" %v", s.ComponentCodes)
	}
	return scope
}
