package executor

import (
	"sync"
	"time"

	"github.com/watzon/dockd/internal/metrics"
)

// BusState is what the instrument bus is doing. The zero value is idle.
type BusState struct {
	Busy   bool
	Reason string
	Since  time.Time
}

// Gate serializes conversations on the instrument bus. Execution, heartbeat
// decisions and discovery all pass through it, whichever goroutine starts them.
// Background pollers check State or use TryEnter and never block on it.
type Gate struct {
	mu sync.Mutex

	stateMu sync.Mutex
	state   BusState
}

// Enter blocks until the bus is free and returns the function that releases it.
func (g *Gate) Enter(reason string) func() {
	g.mu.Lock()
	g.hold(reason)
	return g.release
}

// TryEnter acquires the bus only if it is free.
func (g *Gate) TryEnter(reason string) (func(), bool) {
	if !g.mu.TryLock() {
		return nil, false
	}
	g.hold(reason)
	return g.release, true
}

// State returns the current holder without waiting for the bus.
func (g *Gate) State() BusState {
	g.stateMu.Lock()
	defer g.stateMu.Unlock()
	return g.state
}

func (g *Gate) hold(reason string) {
	g.stateMu.Lock()
	g.state = BusState{Busy: true, Reason: reason, Since: time.Now()}
	g.stateMu.Unlock()
	metrics.IncrementBusInFlight()
}

func (g *Gate) release() {
	g.stateMu.Lock()
	g.state = BusState{}
	g.stateMu.Unlock()
	metrics.DecrementBusInFlight()
	g.mu.Unlock()
}
