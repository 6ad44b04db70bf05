package install

import (
	"context"
	"errors"
	"fmt"

	statexfer "github.com/blockberries/statexfer"
	"github.com/blockberries/statexfer/divisible"
	"github.com/blockberries/statexfer/types"
)

// DefaultBatch is the number of parts requested per FetchParts call
// when Pump is given a non-positive batch size.
const DefaultBatch = 64

// Pump requests from src every part of target that have does not
// already hold, batch ids at a time, and sends them to out followed by
// a Done message. have may be nil.
//
// Pump never blocks past ctx: a slow consumer holding out full is
// abandoned with ctx's error. Pump does not close out.
func Pump(
	ctx context.Context,
	src statexfer.Source,
	target, have *types.StateDescriptor,
	out chan<- divisible.InstallStateMessage,
	batch int,
) error {
	if target == nil {
		return fmt.Errorf("install: pump: nil target descriptor")
	}
	if batch <= 0 {
		batch = DefaultBatch
	}

	ids := target.Diff(have)
	for start := 0; start < len(ids); start += batch {
		end := min(start+batch, len(ids))
		parts, err := src.FetchParts(ctx, ids[start:end])
		if err != nil {
			return fmt.Errorf("install: pump: fetch parts: %w", err)
		}
		if len(parts) == 0 {
			continue
		}
		if err := send(ctx, out, divisible.InstallParts(types.FromSlice(parts))); err != nil {
			return err
		}
	}
	return send(ctx, out, divisible.InstallDoneMessage())
}

func send(ctx context.Context, out chan<- divisible.InstallStateMessage, msg divisible.InstallStateMessage) error {
	select {
	case out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Transfer fetches target's descriptor from src, prepares d and runs
// the pump and driver concurrently over a channel of the given
// capacity. It returns the driver's result.
func Transfer(ctx context.Context, d *Driver, src statexfer.Source, batch, capacity int) (*types.StateDescriptor, error) {
	target, err := src.Descriptor(ctx)
	if err != nil {
		return nil, fmt.Errorf("install: fetch descriptor: %w", err)
	}
	if _, err := d.Prepare(target); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs := make(chan divisible.InstallStateMessage, max(capacity, 1))
	pumpErr := make(chan error, 1)
	go func() {
		err := Pump(ctx, src, target, d.Descriptor(), msgs, batch)
		close(msgs)
		pumpErr <- err
	}()

	runErr := d.Run(ctx, msgs)
	cancel()
	perr := <-pumpErr
	switch {
	case runErr == nil:
		return target, nil
	case perr != nil && errors.Is(runErr, statexfer.ErrIncompleteState):
		// The stream ended early because the pump failed.
		return nil, perr
	default:
		return nil, runErr
	}
}
