package statexfertest

import (
	"context"
	"errors"
	"sync"
	"testing"

	statexfer "github.com/blockberries/statexfer"
	"github.com/blockberries/statexfer/divisible"
	"github.com/blockberries/statexfer/install"
	"github.com/blockberries/statexfer/types"
)

// Factory builds the states exercised by RunComplianceSuite.
type Factory struct {
	// Source returns a state holding a committed checkpoint of at
	// least two parts.
	Source func(t *testing.T) divisible.State
	// Empty returns a state with no committed checkpoint.
	Empty func(t *testing.T) divisible.State
}

// RunComplianceSuite checks a divisible state implementation against
// the accept/finalize invariants. Every subtest builds fresh states.
func RunComplianceSuite(t *testing.T, f Factory) {
	t.Helper()
	ctx := context.Background()

	checkpoint := func(t *testing.T) (*types.StateDescriptor, []types.StatePart) {
		t.Helper()
		src := f.Source(t)
		desc := src.Descriptor()
		if desc == nil {
			t.Fatal("source state has no descriptor")
		}
		parts, err := src.Parts(ctx)
		if err != nil {
			t.Fatalf("source Parts: %v", err)
		}
		if len(parts) < 2 {
			t.Fatalf("source state needs at least 2 parts, got %d", len(parts))
		}
		return desc, parts
	}

	t.Run("empty_state_unavailable", func(t *testing.T) {
		s := f.Empty(t)
		if _, err := s.SeqNo(); !errors.Is(err, statexfer.ErrStateUnavailable) {
			t.Errorf("SeqNo on empty state: expected ErrStateUnavailable, got %v", err)
		}
		if d := s.Descriptor(); d != nil && d.Len() != 0 {
			t.Errorf("empty state should not describe parts, got %d", d.Len())
		}
	})

	t.Run("parts_match_descriptor", func(t *testing.T) {
		src := f.Source(t)
		desc := src.Descriptor()
		parts, err := src.Parts(ctx)
		if err != nil {
			t.Fatalf("Parts: %v", err)
		}
		if len(parts) != desc.Len() {
			t.Fatalf("expected %d parts, got %d", desc.Len(), len(parts))
		}
		for i := range parts {
			p := &parts[i]
			if err := divisible.VerifyPart(p); err != nil {
				t.Errorf("part %x does not verify: %v", p.ID(), err)
			}
			want, ok := desc.Lookup(p.ID())
			if !ok || !want.Equal(&p.Description) {
				t.Errorf("part %x is not described by the descriptor", p.ID())
			}
		}
		seq, err := src.SeqNo()
		if err != nil || seq != desc.Seq {
			t.Errorf("SeqNo = %d, %v; descriptor seq %d", seq, err, desc.Seq)
		}
	})

	t.Run("descriptor_deterministic", func(t *testing.T) {
		a, b := f.Source(t), f.Source(t)
		if !a.Descriptor().Equal(b.Descriptor()) {
			t.Error("two sources built the same way produced different descriptors")
		}
	})

	t.Run("transfer_installs_identical_state", func(t *testing.T) {
		desc, parts := checkpoint(t)
		dst := f.Empty(t)
		h := NewHarness(t, dst)
		h.Install(desc, parts)

		if !dst.Descriptor().Equal(desc) {
			t.Error("installed descriptor differs from source")
		}
		seq, err := dst.SeqNo()
		if err != nil || seq != desc.Seq {
			t.Errorf("installed SeqNo = %d, %v; want %d", seq, err, desc.Seq)
		}
	})

	t.Run("finalize_incomplete_fails", func(t *testing.T) {
		desc, parts := checkpoint(t)
		dst := f.Empty(t)
		h := NewHarness(t, dst)
		h.Prepare(desc)
		h.Send(parts[1:]...)

		err := h.DoneErr()
		if !errors.Is(err, statexfer.ErrIncompleteState) {
			t.Fatalf("expected ErrIncompleteState, got %v", err)
		}
		h.MustPhase(install.Failed)
		if _, err := dst.SeqNo(); !errors.Is(err, statexfer.ErrStateUnavailable) {
			t.Errorf("failed transfer must not expose state, SeqNo err = %v", err)
		}
	})

	t.Run("duplicate_parts_idempotent", func(t *testing.T) {
		desc, parts := checkpoint(t)
		dst := f.Empty(t)
		h := NewHarness(t, dst)
		h.Prepare(desc)
		h.Send(parts...)
		h.Send(parts...)
		h.Send(parts[0])
		h.Done()

		if !dst.Descriptor().Equal(desc) {
			t.Error("retransmission changed the installed descriptor")
		}
	})

	t.Run("tampered_part_rejected", func(t *testing.T) {
		desc, parts := checkpoint(t)
		dst := f.Empty(t)
		if err := dst.BeginTransfer(desc); err != nil {
			t.Fatalf("BeginTransfer: %v", err)
		}

		batch := append([]types.StatePart{Tamper(parts[0])}, parts[1:]...)
		err := dst.AcceptParts(ctx, batch)
		if !errors.Is(err, statexfer.ErrPartVerificationFailed) {
			t.Fatalf("expected ErrPartVerificationFailed, got %v", err)
		}
		if err := dst.FinalizeTransfer(ctx); !errors.Is(err, statexfer.ErrIncompleteState) {
			t.Fatalf("tampered part must not count as accepted, got %v", err)
		}

		if err := dst.AcceptParts(ctx, parts[:1]); err != nil {
			t.Fatalf("resending the good part: %v", err)
		}
		if err := dst.FinalizeTransfer(ctx); err != nil {
			t.Fatalf("FinalizeTransfer after resend: %v", err)
		}
	})

	t.Run("malformed_target_rejected", func(t *testing.T) {
		desc, _ := checkpoint(t)
		n := len(desc.Entries)

		dup := append([]types.PartDescription{desc.Entries[0]}, desc.Entries...)
		reversed := make([]types.PartDescription, n)
		for i := range desc.Entries {
			reversed[n-1-i] = desc.Entries[i]
		}

		for name, entries := range map[string][]types.PartDescription{
			"duplicate_id": dup,
			"unsorted":     reversed,
		} {
			t.Run(name, func(t *testing.T) {
				target := &types.StateDescriptor{Seq: desc.Seq, Entries: entries}
				root := target.ComputeRoot()
				target.Root = &root

				dst := f.Empty(t)
				err := dst.BeginTransfer(target)
				if !errors.Is(err, statexfer.ErrPartVerificationFailed) {
					t.Fatalf("expected ErrPartVerificationFailed, got %v", err)
				}
				var de *statexfer.DescriptorError
				if !errors.As(err, &de) {
					t.Fatalf("expected *DescriptorError, got %T", err)
				}
				if err := dst.FinalizeTransfer(ctx); err == nil {
					t.Fatal("a refused target must not be installable")
				}
				if _, err := dst.SeqNo(); !errors.Is(err, statexfer.ErrStateUnavailable) {
					t.Errorf("refused target exposed state, SeqNo err = %v", err)
				}
			})
		}
	})

	t.Run("sequence_mismatch_rejected", func(t *testing.T) {
		desc, parts := checkpoint(t)
		dst := f.Empty(t)
		if err := dst.BeginTransfer(desc); err != nil {
			t.Fatalf("BeginTransfer: %v", err)
		}
		p := parts[0]
		stale := types.NewStatePart(p.ID(), p.Description.Seq+1, p.Data)
		err := dst.AcceptParts(ctx, []types.StatePart{stale})
		if !errors.Is(err, statexfer.ErrSequenceMismatch) {
			t.Fatalf("expected ErrSequenceMismatch, got %v", err)
		}
	})

	t.Run("accept_without_transfer", func(t *testing.T) {
		_, parts := checkpoint(t)
		dst := f.Empty(t)
		if err := dst.AcceptParts(ctx, parts); err == nil {
			t.Fatal("AcceptParts before BeginTransfer should fail")
		}
	})

	t.Run("concurrent_readers_during_transfer", func(t *testing.T) {
		desc, parts := checkpoint(t)
		dst := f.Empty(t)
		h := NewHarness(t, dst)
		drv := h.Driver()
		h.Prepare(desc)

		var wg sync.WaitGroup
		stop := make(chan struct{})
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					if d := drv.Descriptor(); d != nil && !d.Equal(desc) {
						t.Error("reader observed a partially installed descriptor")
						return
					}
					drv.SeqNo()
				}
			}()
		}
		for i := range parts {
			h.Send(parts[i])
		}
		h.Done()
		close(stop)
		wg.Wait()

		if !drv.Descriptor().Equal(desc) {
			t.Error("installed descriptor differs from source")
		}
	})
}
