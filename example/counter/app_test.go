package counter

import (
	"errors"
	"testing"

	statexfer "github.com/blockberries/statexfer"
	"github.com/blockberries/statexfer/monolithic"
)

func TestCounter_Increment(t *testing.T) {
	app := New()

	count, err := app.Execute(1, IncrementTx(5))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if count != 5 || app.Count() != 5 {
		t.Errorf("expected count=5, got %d / %d", count, app.Count())
	}
}

func TestCounter_MultipleIncrements(t *testing.T) {
	app := New()
	app.Execute(1, IncrementTx(3))
	app.Execute(2, IncrementTx(7))

	if app.Count() != 10 {
		t.Errorf("expected count=10, got %d", app.Count())
	}
	if seq, _ := app.SeqNo(); seq != 2 {
		t.Errorf("expected seq 2, got %d", seq)
	}
}

func TestCounter_InvalidTx(t *testing.T) {
	app := New()
	app.Execute(1, IncrementTx(1))

	if _, err := app.Execute(2, IncrementTx(4), []byte{0x01}); err == nil {
		t.Fatal("expected error for short tx")
	}
	if app.Count() != 1 {
		t.Errorf("failed entry changed the count to %d", app.Count())
	}
}

func TestCounter_DigestDeterministic(t *testing.T) {
	a, b := New(), New()
	for i := uint64(1); i <= 3; i++ {
		a.Execute(i, IncrementTx(i))
		b.Execute(i, IncrementTx(i))
	}

	_, da, err := a.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	_, db, _ := b.Checkpoint()
	if da != db {
		t.Fatalf("non-deterministic digest: %s != %s", da, db)
	}

	b.Execute(4, IncrementTx(1))
	if _, db, _ = b.Checkpoint(); da == db {
		t.Fatal("different states produced the same digest")
	}
}

func TestCounter_TransferToNewReplica(t *testing.T) {
	src := New()
	src.Execute(1, IncrementTx(40))
	src.Execute(2, IncrementTx(2))

	msg, digest, err := src.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	seq, state := msg.IntoState()

	// Ship the serialized state.
	data, err := monolithic.SerializeState(state)
	if err != nil {
		t.Fatalf("SerializeState: %v", err)
	}
	received := new(State)
	if err := monolithic.DeserializeState(data, received); err != nil {
		t.Fatalf("DeserializeState: %v", err)
	}

	dst := New()
	if err := dst.Install(monolithic.NewInstallStateMessage(seq, received), &digest); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if dst.Count() != 42 {
		t.Fatalf("expected count=42 after install, got %d", dst.Count())
	}

	// The checkpoint handed out earlier is unaffected by later writes.
	src.Execute(3, IncrementTx(1))
	if state.Count != 42 {
		t.Fatalf("checkpoint state mutated to %d", state.Count)
	}

	stale := monolithic.NewInstallStateMessage(1, received)
	if err := dst.Install(stale, nil); !errors.Is(err, statexfer.ErrSequenceMismatch) {
		t.Fatalf("expected ErrSequenceMismatch, got %v", err)
	}
}

func TestState_RoundTripByteIdentical(t *testing.T) {
	s := &State{Count: 1 << 40, Increments: 9}
	first, err := monolithic.SerializeState(s)
	if err != nil {
		t.Fatalf("SerializeState: %v", err)
	}
	var back State
	if err := monolithic.DeserializeState(first, &back); err != nil {
		t.Fatalf("DeserializeState: %v", err)
	}
	second, _ := monolithic.SerializeState(&back)
	if string(first) != string(second) {
		t.Fatal("serialize -> deserialize -> serialize is not byte-identical")
	}
}
