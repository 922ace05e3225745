// Package badger persists graph commits in an embedded BadgerDB.
//
// Every commit is one key, "commit/" followed by the zero padded version, so
// that prefix iteration yields commits in version order.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/store"

	"github.com/dgraph-io/badger/v4"
)

const commitPrefix = "commit/"

// ErrSequenceGap is returned by Replay when a stored version is missing.
var ErrSequenceGap = errors.New("journal sequence gap")

// Config configures the journal.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
}

// Journal implements store.Journal on BadgerDB.
type Journal struct {
	db *badger.DB
}

// Open opens or creates the journal database.
func Open(cfg Config) (*Journal, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger journal path is empty")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger journal: %w", err)
	}
	return &Journal{db: db}, nil
}

func commitKey(version int64) []byte {
	return fmt.Appendf(nil, "%s%020d", commitPrefix, version)
}

// Append stores c. Appending an existing version fails.
func (j *Journal) Append(ctx context.Context, c store.Commit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal commit %d: %w", c.Version(), err)
	}
	key := commitKey(c.Version())

	return j.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("commit %d already journaled", c.Version())
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
}

// Replay implements store.Journal.
func (j *Journal) Replay(ctx context.Context, fn func(store.Commit) error) error {
	prefix := []byte(commitPrefix)
	return j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		var last int64
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var c store.Commit
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if c.Version() != last+1 {
				return fmt.Errorf("%w: expected %d, got %d", ErrSequenceGap, last+1, c.Version())
			}
			last = c.Version()

			if err := fn(c); err != nil {
				return err
			}
		}
		logger.Debug("[Badger][Replay] journal read", "commits", last)
		return nil
	})
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
