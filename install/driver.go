package install

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	statexfer "github.com/blockberries/statexfer"
	"github.com/blockberries/statexfer/divisible"
	"github.com/blockberries/statexfer/types"
)

// ErrNotPrepared is returned when messages arrive before Prepare.
var ErrNotPrepared = errors.New("install: no transfer prepared")

type settings struct {
	logger  hclog.Logger
	metrics *Metrics
}

// Option configures a Driver or a Monolithic installer.
type Option func(*settings)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l hclog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMetrics sets the collectors. The default records nothing.
func WithMetrics(m *Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

func newSettings(opts []Option) settings {
	s := settings{logger: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Driver owns the writer side of a divisible.State for the duration of
// transfers. Mutations take the write lock; the Reader methods take the
// read lock, so readers never observe an in-progress AcceptParts or
// FinalizeTransfer.
type Driver struct {
	mu      sync.RWMutex
	state   divisible.State
	guard   *Guard
	logger  hclog.Logger
	metrics *Metrics

	target *types.StateDescriptor
	id     uuid.UUID
}

var _ divisible.Reader = (*Driver)(nil)

// NewDriver wraps state. The driver starts Idle with nothing prepared.
func NewDriver(state divisible.State, opts ...Option) *Driver {
	s := newSettings(opts)
	d := &Driver{
		state:   state,
		guard:   NewGuard(),
		logger:  s.logger,
		metrics: s.metrics,
	}
	d.metrics.phase(Idle)
	return d
}

// Phase returns the install phase.
func (d *Driver) Phase() Phase { return d.guard.Phase() }

// TransferID returns the id assigned by the last Prepare.
func (d *Driver) TransferID() uuid.UUID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.id
}

// Prepare starts a transfer towards target and returns its id. A
// finished or failed previous transfer is discarded; an active one is
// an error.
func (d *Driver) Prepare(target *types.StateDescriptor) (uuid.UUID, error) {
	if target == nil {
		return uuid.Nil, fmt.Errorf("install: nil target descriptor")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.guard.Reset(); err != nil {
		return uuid.Nil, err
	}
	d.setPhase()
	if err := d.state.BeginTransfer(target); err != nil {
		return uuid.Nil, fmt.Errorf("install: begin transfer: %w", err)
	}
	d.target = target
	d.id = uuid.New()
	d.logger.Info("transfer prepared",
		"transfer", d.id, "seq", uint64(target.Seq), "parts", target.Len())
	return d.id, nil
}

// Handle applies one message. Rejected parts are logged and counted but
// do not fail the transfer; the orchestrator may re-request them. Done
// finalizes the transfer and returns its result.
func (d *Driver) Handle(ctx context.Context, msg divisible.InstallStateMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.target == nil {
		return ErrNotPrepared
	}
	switch msg.Kind() {
	case divisible.InstallStatePart:
		return d.receive(ctx, msg.Parts())
	case divisible.InstallDone:
		return d.finalize(ctx)
	default:
		return fmt.Errorf("install: unknown message kind %s", msg.Kind())
	}
}

func (d *Driver) receive(ctx context.Context, batch types.MaybeVec[types.StatePart]) error {
	if err := d.guard.Receive(); err != nil {
		return err
	}
	d.setPhase()
	if batch.IsEmpty() {
		return nil
	}

	parts := batch.Slice()
	err := d.state.AcceptParts(ctx, parts)

	rejected := make(map[string]struct{})
	for _, e := range flatten(err) {
		var pe *statexfer.PartError
		if !errors.As(e, &pe) {
			d.fail("failed")
			return fmt.Errorf("install: accept parts: %w", err)
		}
		rejected[string(pe.ID)] = struct{}{}
		d.metrics.rejected(reason(pe.Kind))
		d.logger.Warn("part rejected",
			"transfer", d.id, "part", fmt.Sprintf("%x", pe.ID), "seq", uint64(pe.Seq), "error", pe)
	}

	var n int
	var bytes uint64
	for i := range parts {
		if _, ok := rejected[string(parts[i].ID())]; ok {
			continue
		}
		n++
		bytes += uint64(parts[i].Length())
	}
	d.metrics.accepted(n, bytes)
	d.logger.Debug("parts accepted", "transfer", d.id, "accepted", n, "rejected", len(rejected))
	return nil
}

func (d *Driver) finalize(ctx context.Context) error {
	if err := d.guard.Finalize(); err != nil {
		return err
	}
	d.setPhase()

	start := time.Now()
	err := d.state.FinalizeTransfer(ctx)
	d.metrics.finalized(time.Since(start))
	if err != nil {
		d.fail("failed")
		d.logger.Error("transfer failed", "transfer", d.id, "seq", uint64(d.target.Seq), "error", err)
		return err
	}

	if err := d.guard.Complete(); err != nil {
		return err
	}
	d.setPhase()
	d.metrics.transfer("ok")
	d.logger.Info("transfer installed",
		"transfer", d.id, "seq", uint64(d.target.Seq), "elapsed", time.Since(start))
	d.target = nil
	return nil
}

// fail must be called with the write lock held.
func (d *Driver) fail(result string) {
	if d.guard.Fail() == nil {
		d.setPhase()
		d.metrics.transfer(result)
	}
}

func (d *Driver) setPhase() { d.metrics.phase(d.guard.Phase()) }

// Run consumes msgs until Done and returns the finalize result. If msgs
// is closed before Done the transfer fails with
// statexfer.ErrIncompleteState; if ctx ends first it fails with the
// context's error.
func (d *Driver) Run(ctx context.Context, msgs <-chan divisible.InstallStateMessage) error {
	for {
		select {
		case <-ctx.Done():
			d.abort("cancelled", ctx.Err().Error())
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				d.abort("failed", "install stream closed before Done")
				return fmt.Errorf("%w: install stream closed before Done", statexfer.ErrIncompleteState)
			}
			err := d.Handle(ctx, msg)
			if msg.IsDone() || err != nil {
				return err
			}
		}
	}
}

// Abort fails the open transfer so the next Prepare can restart it.
// Buffered parts are never finalized. Aborting a Ready or Failed driver
// is a no-op.
func (d *Driver) Abort(reason string) {
	d.abort("aborted", reason)
}

func (d *Driver) abort(result, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail(result)
	d.logger.Warn("transfer aborted", "transfer", d.id, "result", result, "reason", reason)
}

// Descriptor implements divisible.Reader.
func (d *Driver) Descriptor() *types.StateDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state.Descriptor()
}

// Parts implements divisible.Reader.
func (d *Driver) Parts(ctx context.Context) ([]types.StatePart, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state.Parts(ctx)
}

// SeqNo implements divisible.Reader.
func (d *Driver) SeqNo() (types.SeqNo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state.SeqNo()
}

// flatten expands a joined error into its members.
func flatten(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range j.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []error{err}
}

func reason(kind error) string {
	switch {
	case errors.Is(kind, statexfer.ErrSequenceMismatch):
		return "sequence"
	case errors.Is(kind, statexfer.ErrPartVerificationFailed):
		return "verification"
	default:
		return "other"
	}
}
