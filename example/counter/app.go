// Package counter implements a minimal replicated counter whose state
// is transferred whole. It demonstrates the monolithic contract.
//
// Transaction format: 8 bytes, big-endian uint64 increment value.
package counter

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/blockberries/statexfer/codec"
	"github.com/blockberries/statexfer/install"
	"github.com/blockberries/statexfer/internal/pbwire"
	"github.com/blockberries/statexfer/monolithic"
	"github.com/blockberries/statexfer/types"
)

// Compile-time interface check.
var _ monolithic.State = (*State)(nil)

// State is the counter's entire replicated state.
type State struct {
	Count      uint64 `cramberry:"1"`
	Increments uint64 `cramberry:"2"`
}

func (s *State) SerializeState(w io.Writer) error {
	data, err := codec.Marshal(s)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (s *State) DeserializeState(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return codec.Unmarshal(data, s)
}

// Size is a capacity hint: two varints.
func (s *State) Size() int { return 2 * binary.MaxVarintLen64 }

func (s *State) AppendProto(b []byte) []byte {
	b = pbwire.AppendVarint(b, 1, s.Count)
	return pbwire.AppendVarint(b, 2, s.Increments)
}

func (s *State) UnmarshalProto(b []byte) error {
	*s = State{}
	return pbwire.Range(b, func(f pbwire.Field) error {
		var err error
		switch f.Num {
		case 1:
			s.Count, err = pbwire.Uint(f)
		case 2:
			s.Increments, err = pbwire.Uint(f)
		}
		return err
	})
}

// App applies increments and checkpoints the counter.
type App struct {
	holder *install.Monolithic[*State]
}

// New creates a counter at zero, sequence 0.
func New(opts ...install.Option) *App {
	h := install.NewMonolithic[*State](opts...)
	h.Update(0, func(*State) (*State, error) { return &State{}, nil })
	return &App{holder: h}
}

// Execute applies txs as the entry at seq. Invalid transactions fail
// the whole entry and leave the state unchanged.
func (app *App) Execute(seq types.SeqNo, txs ...[]byte) (uint64, error) {
	var count uint64
	err := app.holder.Update(seq, func(cur *State) (*State, error) {
		next := *cur
		for i, tx := range txs {
			if err := validateTx(tx); err != nil {
				return nil, fmt.Errorf("tx %d: %w", i, err)
			}
			next.Count += binary.BigEndian.Uint64(tx)
			next.Increments++
		}
		count = next.Count
		// Copy on write: checkpoints handed out earlier stay intact.
		return &next, nil
	})
	return count, err
}

// Count returns the current counter value.
func (app *App) Count() uint64 {
	var count uint64
	app.holder.View(func(_ types.SeqNo, s *State) error {
		count = s.Count
		return nil
	})
	return count
}

// SeqNo returns the sequence number of the last applied entry.
func (app *App) SeqNo() (types.SeqNo, error) {
	return app.holder.SeqNo()
}

// Checkpoint returns the current state and its digest.
func (app *App) Checkpoint() (monolithic.AppStateMessage[*State], types.Digest, error) {
	return app.holder.Checkpoint()
}

// Install replaces the state with a transferred one; see
// install.Monolithic.Install.
func (app *App) Install(msg monolithic.InstallStateMessage[*State], want *types.Digest) error {
	return app.holder.Install(msg, want)
}

func validateTx(tx []byte) error {
	if len(tx) != 8 {
		return fmt.Errorf("tx must be 8 bytes, got %d", len(tx))
	}
	return nil
}

// IncrementTx creates a transaction that increments by the
// given value.
func IncrementTx(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}
