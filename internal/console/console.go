// Package console renders station display states to the log and tracks the
// operator menu flags.
package console

import (
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/watzon/dockd/internal/action"
	"github.com/watzon/dockd/internal/model"
)

// Status is what the console currently shows.
type Status struct {
	State       model.DisplayState `json:"state"`
	Messages    []string           `json:"messages,omitempty"`
	Action      string             `json:"action,omitempty"`
	MenuActive  bool               `json:"menu_active"`
	MenuEnabled bool               `json:"menu_enabled"`
	Since       time.Time          `json:"since"`
}

// Console is the display collaborator.
type Console struct {
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	status Status
}

// New creates a console showing the ready state.
func New() *Console {
	c := &Console{
		logger: log.With().Str("component", "console").Logger(),
		now:    time.Now,
	}
	c.status = Status{State: model.DisplayReady, MenuEnabled: true, Since: c.now()}
	return c
}

// UpdateState shows st. Repeating the current state and messages is a no-op.
func (c *Console) UpdateState(st model.DisplayState, msgs ...string) {
	c.mu.Lock()
	if c.status.State == st && slices.Equal(c.status.Messages, msgs) {
		c.mu.Unlock()
		return
	}
	c.status.State = st
	c.status.Messages = slices.Clone(msgs)
	c.status.Since = c.now()
	c.mu.Unlock()

	ev := c.logger.Info()
	if isFault(st) {
		ev = c.logger.Warn()
	}
	ev.Str("state", string(st)).Strs("messages", msgs).Msg("Display updated")
}

// UpdateAction shows the action about to run.
func (c *Console) UpdateAction(a *action.Action) {
	c.mu.Lock()
	c.status.Action = a.String()
	c.mu.Unlock()

	c.logger.Info().Str("action", a.String()).Strs("messages", a.Messages).Msg("Display action")
}

// MenuActive reports whether the operator is navigating the menu.
func (c *Console) MenuActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.MenuActive
}

// SetMenuActive records the operator entering or leaving the menu. Entering is
// refused while the menu is locked.
func (c *Console) SetMenuActive(active bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if active && !c.status.MenuEnabled {
		return false
	}
	c.status.MenuActive = active
	return true
}

// SetMenuEnabled locks or unlocks the menu.
func (c *Console) SetMenuEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.MenuEnabled = enabled
	if !enabled {
		c.status.MenuActive = false
	}
}

// Status returns a copy of what the console shows.
func (c *Console) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.status
	s.Messages = slices.Clone(c.status.Messages)
	return s
}

func isFault(st model.DisplayState) bool {
	switch st {
	case model.DisplayReady, model.DisplayBusy, model.DisplayUndocked, model.DisplayPoweringOff:
		return false
	}
	return true
}
