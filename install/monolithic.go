package install

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	statexfer "github.com/blockberries/statexfer"
	"github.com/blockberries/statexfer/monolithic"
	"github.com/blockberries/statexfer/types"
)

// Monolithic holds a monolithic state and swaps it whole on install.
// Readers use View and never see a state mid-swap.
type Monolithic[S monolithic.State] struct {
	mu          sync.RWMutex
	seq         types.SeqNo
	state       S
	initialized bool

	logger  hclog.Logger
	metrics *Metrics
}

// NewMonolithic returns an uninitialized holder.
func NewMonolithic[S monolithic.State](opts ...Option) *Monolithic[S] {
	s := newSettings(opts)
	return &Monolithic[S]{logger: s.logger, metrics: s.metrics}
}

// SeqNo returns the sequence number of the held state.
func (m *Monolithic[S]) SeqNo() (types.SeqNo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return 0, statexfer.NewStateUnavailable("monolithic state not initialized", nil)
	}
	return m.seq, nil
}

// Checkpoint returns the held state as an AppStateMessage along with
// its digest. The returned state is shared with the holder and must be
// treated as read-only.
func (m *Monolithic[S]) Checkpoint() (monolithic.AppStateMessage[S], types.Digest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return monolithic.AppStateMessage[S]{}, types.Digest{},
			statexfer.NewStateUnavailable("monolithic state not initialized", nil)
	}
	digest, err := monolithic.DigestState(m.state)
	if err != nil {
		return monolithic.AppStateMessage[S]{}, types.Digest{}, err
	}
	return monolithic.NewAppStateMessage(m.seq, m.state), digest, nil
}

// Install replaces the held state with the one carried by msg. A state
// older than the held one fails with statexfer.ErrSequenceMismatch. If
// want is non-nil the carried state's digest must equal it, otherwise
// the install fails with statexfer.ErrDigestMismatch. On failure the
// held state is unchanged.
func (m *Monolithic[S]) Install(msg monolithic.InstallStateMessage[S], want *types.Digest) error {
	seq, state := msg.IntoState()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized && seq < m.seq {
		m.metrics.monolithic("stale")
		return fmt.Errorf("%w: install at %d is behind held state at %d",
			statexfer.ErrSequenceMismatch, seq, m.seq)
	}
	digest, err := monolithic.DigestState(state)
	if err != nil {
		m.metrics.monolithic("failed")
		return err
	}
	if want != nil && *want != digest {
		m.metrics.monolithic("digest")
		return fmt.Errorf("%w: got %s, want %s", statexfer.ErrDigestMismatch, digest.Short(), want.Short())
	}

	m.seq, m.state, m.initialized = seq, state, true
	m.metrics.monolithic("ok")
	m.logger.Info("monolithic state installed", "seq", uint64(seq), "digest", digest.Short())
	return nil
}

// Update lets the owning writer advance the state to seq. fn receives
// the held state (the zero S before initialization) and returns the
// new one. seq must not go backwards.
func (m *Monolithic[S]) Update(seq types.SeqNo, fn func(S) (S, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized && seq < m.seq {
		return fmt.Errorf("%w: update at %d is behind held state at %d",
			statexfer.ErrSequenceMismatch, seq, m.seq)
	}
	next, err := fn(m.state)
	if err != nil {
		return err
	}
	m.seq, m.state, m.initialized = seq, next, true
	return nil
}

// View calls fn with the held state under the read lock. It fails with
// statexfer.ErrStateUnavailable before initialization.
func (m *Monolithic[S]) View(fn func(seq types.SeqNo, state S) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return statexfer.NewStateUnavailable("monolithic state not initialized", nil)
	}
	return fn(m.seq, m.state)
}
