// Package install drives a state through a transfer: it enforces the
// install state machine, serializes the writer against readers, pumps
// parts from a Source and installs monolithic checkpoints.
package install

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Phase is a state of the install state machine.
type Phase uint32

const (
	// Idle: no transfer is being received. A target may be prepared.
	Idle Phase = iota
	// Receiving: part batches are being accepted.
	Receiving
	// Finalizing: Done arrived and FinalizeTransfer is running.
	Finalizing
	// Ready: the transfer was installed. Normal processing resumes.
	Ready
	// Failed: finalization or the stream failed. The caller decides
	// whether to restart.
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "Idle"
	case Receiving:
		return "Receiving"
	case Finalizing:
		return "Finalizing"
	case Ready:
		return "Ready"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("unknown(%d)", p)
	}
}

// TransitionError reports an operation attempted in the wrong phase.
type TransitionError struct {
	Op       string
	Phase    Phase
	Expected []Phase
}

func (e *TransitionError) Error() string {
	want := make([]string, len(e.Expected))
	for i, p := range e.Expected {
		want[i] = p.String()
	}
	return fmt.Sprintf("install: %s called in phase %s (expected %s)",
		e.Op, e.Phase, strings.Join(want, " or "))
}

// Guard enforces the install state machine:
//
//	Idle -> Receiving -> Finalizing -> Ready
//	Receiving, Finalizing -> Failed
//	Ready, Failed -> Idle (Reset)
//
// A Done with no preceding parts goes straight from Idle to Finalizing.
type Guard struct {
	phase atomic.Uint32
}

// NewGuard creates a guard in the Idle phase.
func NewGuard() *Guard {
	return &Guard{}
}

// Phase returns the current phase.
func (g *Guard) Phase() Phase {
	return Phase(g.phase.Load())
}

// transition moves from any phase in from to the phase to.
func (g *Guard) transition(op string, to Phase, from ...Phase) error {
	for {
		cur := g.phase.Load()
		ok := false
		for _, f := range from {
			if Phase(cur) == f {
				ok = true
				break
			}
		}
		if !ok {
			return &TransitionError{Op: op, Phase: Phase(cur), Expected: from}
		}
		if g.phase.CompareAndSwap(cur, uint32(to)) {
			return nil
		}
	}
}

// Receive enters Receiving. It is a no-op while already receiving.
func (g *Guard) Receive() error {
	return g.transition("Receive", Receiving, Idle, Receiving)
}

// Finalize transitions Receiving (or Idle) to Finalizing.
func (g *Guard) Finalize() error {
	return g.transition("Finalize", Finalizing, Idle, Receiving)
}

// Complete transitions Finalizing to Ready.
func (g *Guard) Complete() error {
	return g.transition("Complete", Ready, Finalizing)
}

// Fail moves an active transfer to Failed.
func (g *Guard) Fail() error {
	return g.transition("Fail", Failed, Idle, Receiving, Finalizing)
}

// Reset returns a finished or failed guard to Idle.
func (g *Guard) Reset() error {
	return g.transition("Reset", Idle, Idle, Ready, Failed)
}

// Active reports whether a transfer is between Receiving and the end
// of Finalizing.
func (g *Guard) Active() bool {
	p := g.Phase()
	return p == Receiving || p == Finalizing
}
