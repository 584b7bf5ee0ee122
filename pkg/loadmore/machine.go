// Package loadmore implements the load-more state machine and the engine
// facade that ties the pagination store, request optimizer and paged source
// together. The machine decides, per trigger, whether to fetch from the
// server or slice further from already-loaded results, and sequences the
// fetch/ingest/settle cycle with error and retry handling.
package loadmore

import (
	"sync"

	"github.com/rs/zerolog"
)

// Phase is a state of the load-more machine.
type Phase string

const (
	// PhaseIdle accepts triggers.
	PhaseIdle Phase = "idle"

	// PhaseLoadingServer is an in-flight server fetch.
	PhaseLoadingServer Phase = "loading-server"

	// PhaseLoadingClient is a synchronous client-side slice.
	PhaseLoadingClient Phase = "loading-client"

	// PhaseSettling is merging results into the store.
	PhaseSettling Phase = "settling"

	// PhaseErrored holds a recorded failure until it is acknowledged.
	PhaseErrored Phase = "errored"

	// PhaseComplete is the terminal per-cycle state before returning to idle.
	PhaseComplete Phase = "complete"
)

// Machine is an explicit finite-state controller for load-more cycles. A
// trigger while a cycle is in progress is a no-op; this is the primary
// concurrency-safety mechanism, since the UI may fire several scroll-end
// events before the first fetch resolves.
type Machine struct {
	mu     sync.Mutex
	phase  Phase
	logger zerolog.Logger
}

// NewMachine creates a machine in the idle phase.
func NewMachine(logger zerolog.Logger) *Machine {
	return &Machine{
		phase:  PhaseIdle,
		logger: logger,
	}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Begin transitions idle -> loading. Returns false, leaving the machine
// untouched, when a cycle is already in progress.
func (m *Machine) Begin(target Phase) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseIdle {
		m.logger.Debug().
			Str("phase", string(m.phase)).
			Str("target", string(target)).
			Msg("Trigger ignored, cycle in progress")
		return false
	}
	if target != PhaseLoadingServer && target != PhaseLoadingClient {
		return false
	}

	m.phase = target
	return true
}

// Settle transitions loading -> settling. The results are being merged.
func (m *Machine) Settle() {
	m.transition(PhaseSettling, PhaseLoadingServer, PhaseLoadingClient)
}

// Complete finishes the cycle: settling -> complete -> idle. The machine is
// immediately ready for the next trigger.
func (m *Machine) Complete() {
	m.transition(PhaseComplete, PhaseSettling, PhaseLoadingServer, PhaseLoadingClient)
	m.transition(PhaseIdle, PhaseComplete)
}

// Fail transitions loading -> errored. Prior state in the store is left
// untouched by the caller.
func (m *Machine) Fail() {
	m.transition(PhaseErrored, PhaseLoadingServer, PhaseLoadingClient)
}

// Acknowledge clears a recorded failure: errored -> idle, so the next
// user-initiated retry is a plain trigger.
func (m *Machine) Acknowledge() {
	m.transition(PhaseIdle, PhaseErrored)
}

func (m *Machine) transition(to Phase, from ...Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range from {
		if m.phase == f {
			m.phase = to
			return
		}
	}
	m.logger.Warn().
		Str("phase", string(m.phase)).
		Str("target", string(to)).
		Msg("Invalid phase transition ignored")
}
