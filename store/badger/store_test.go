package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/statexfer/store"
	"github.com/blockberries/statexfer/types"
)

func checkpoint(t *testing.T, seq types.SeqNo, data ...string) (*types.StateDescriptor, []types.StatePart) {
	t.Helper()
	parts := make([]types.StatePart, len(data))
	descs := make([]types.PartDescription, len(data))
	for i, d := range data {
		parts[i] = types.NewStatePart([]byte{byte(i)}, seq, []byte(d))
		descs[i] = parts[i].Description
	}
	desc, err := types.NewStateDescriptor(seq, descs)
	require.NoError(t, err)
	return desc, parts
}

func TestStore_InMemory(t *testing.T) {
	ctx := context.Background()
	s, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Descriptor(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Parts(ctx, nil)
	require.ErrorIs(t, err, store.ErrNotFound)

	desc, parts := checkpoint(t, 5, "zero", "one", "two")
	require.NoError(t, s.Commit(ctx, desc, parts))

	got, err := s.Descriptor(ctx)
	require.NoError(t, err)
	require.True(t, got.Equal(desc))

	all, err := s.Parts(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := range all {
		require.True(t, all[i].Equal(&parts[i]), "part %d", i)
		require.True(t, all[i].Valid())
	}

	some, err := s.Parts(ctx, [][]byte{{2}, {0}})
	require.NoError(t, err)
	require.Equal(t, "two", string(some[0].Data))
	require.Equal(t, "zero", string(some[1].Data))

	_, err = s.Parts(ctx, [][]byte{{9}})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_CommitDropsStaleParts(t *testing.T) {
	ctx := context.Background()
	s, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	desc, parts := checkpoint(t, 1, "a", "b", "c")
	require.NoError(t, s.Commit(ctx, desc, parts))

	desc2, parts2 := checkpoint(t, 2, "a2")
	require.NoError(t, s.Commit(ctx, desc2, parts2))

	all, err := s.Parts(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, types.SeqNo(2), all[0].Description.Seq)
}

func TestStore_RejectsMismatchedCommit(t *testing.T) {
	s, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	desc, parts := checkpoint(t, 1, "a", "b")
	require.Error(t, s.Commit(context.Background(), desc, parts[:1]))

	_, err = s.Descriptor(context.Background())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(Options{Dir: dir, SyncWrites: true})
	require.NoError(t, err)
	desc, parts := checkpoint(t, 8, "persisted", "state")
	require.NoError(t, s.Commit(ctx, desc, parts))
	require.NoError(t, s.Close())

	s, err = Open(Options{Dir: dir})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Descriptor(ctx)
	require.NoError(t, err)
	require.True(t, got.Equal(desc))

	all, err := s.Parts(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "persisted", string(all[0].Data))
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Options{})
	require.Error(t, err)
}
