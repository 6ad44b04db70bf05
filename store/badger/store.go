// Package badger implements store.PartStore on BadgerDB.
//
// The descriptor lives under key "d" and every part under "p/<id>".
// Values are encoded with codec.Default, so a store written by one
// build can only be read by a build with the same codec.
package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/hashicorp/go-hclog"

	"github.com/blockberries/statexfer/codec"
	"github.com/blockberries/statexfer/store"
	"github.com/blockberries/statexfer/types"
)

var (
	descriptorKey = []byte("d")
	partPrefix    = []byte("p/")
)

func partKey(id []byte) []byte {
	return append(append([]byte{}, partPrefix...), id...)
}

// Options configure Open.
type Options struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string
	// InMemory keeps everything in memory.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// Logger receives badger's own log output. Defaults to a null
	// logger.
	Logger hclog.Logger
}

// Compile-time interface check.
var _ store.PartStore = (*Store)(nil)

// Store implements store.PartStore using BadgerDB.
type Store struct {
	db *badger.DB
}

// Open opens or creates a store.
func Open(o Options) (*Store, error) {
	if !o.InMemory && o.Dir == "" {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if o.Logger == nil {
		o.Logger = hclog.NewNullLogger()
	}

	opts := badger.DefaultOptions(o.Dir)
	if o.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = o.SyncWrites
	opts.Logger = &badgerLogger{logger: o.Logger.Named("badger")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}
	return &Store{db: db}, nil
}

// Commit replaces the stored checkpoint in a single transaction. Parts
// that are no longer listed are deleted. A checkpoint too large for one
// transaction fails with badger.ErrTxnTooBig and leaves the store
// unchanged.
func (s *Store) Commit(ctx context.Context, desc *types.StateDescriptor, parts []types.StatePart) error {
	if err := store.CheckCommit(desc, parts); err != nil {
		return err
	}
	descBytes, err := codec.Marshal(desc)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		// Remove parts the new checkpoint no longer lists.
		var stale [][]byte
		opts := badger.DefaultIteratorOptions
		opts.Prefix = partPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			id := it.Item().KeyCopy(nil)[len(partPrefix):]
			if _, ok := desc.Lookup(id); !ok {
				stale = append(stale, id)
			}
		}
		it.Close()
		for _, id := range stale {
			if err := txn.Delete(partKey(id)); err != nil {
				return err
			}
		}

		for i := range parts {
			if err := ctx.Err(); err != nil {
				return err
			}
			val, err := codec.Marshal(&parts[i])
			if err != nil {
				return err
			}
			if err := txn.Set(partKey(parts[i].ID()), val); err != nil {
				return err
			}
		}
		return txn.Set(descriptorKey, descBytes)
	})
}

// Descriptor returns the stored descriptor.
func (s *Store) Descriptor(_ context.Context) (*types.StateDescriptor, error) {
	desc := new(types.StateDescriptor)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(descriptorKey)
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return codec.Unmarshal(val, desc)
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return desc, nil
}

// Parts returns the stored parts with the given ids. A nil ids scans
// every part; keys sort by id, which is descriptor order.
func (s *Store) Parts(ctx context.Context, ids [][]byte) ([]types.StatePart, error) {
	var out []types.StatePart
	err := s.db.View(func(txn *badger.Txn) error {
		if ids == nil {
			if _, err := txn.Get(descriptorKey); err != nil {
				return err
			}
			opts := badger.DefaultIteratorOptions
			opts.Prefix = partPrefix
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Rewind(); it.Valid(); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				p, err := decodePart(it.Item())
				if err != nil {
					return err
				}
				out = append(out, p)
			}
			return nil
		}

		out = make([]types.StatePart, 0, len(ids))
		for _, id := range ids {
			item, err := txn.Get(partKey(id))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("%w: part %x", store.ErrNotFound, id)
				}
				return err
			}
			p, err := decodePart(item)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

// decodePart copies the value out first: badger reuses it after the
// transaction ends and decoded parts may alias their input.
func decodePart(item *badger.Item) (types.StatePart, error) {
	var p types.StatePart
	val, err := item.ValueCopy(nil)
	if err != nil {
		return p, err
	}
	err = codec.Unmarshal(val, &p)
	return p, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return store.ErrNotFound
	case errors.Is(err, badger.ErrDBClosed):
		return store.ErrClosed
	default:
		return err
	}
}

// badgerLogger routes badger's logger into hclog.
type badgerLogger struct {
	logger hclog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
