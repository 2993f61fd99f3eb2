// Package badgerkv implements kv.Store on an embedded badger database.
// Keys are the clean paths; Children is a prefix scan.
package badgerkv

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/emoelevate/notesledger/internal/kv"
)

type Store struct {
	db *badger.DB
}

// Open opens the database in dir. An empty dir opens an in-memory database.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	p, err := kv.Clean(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(p))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", p, err)
	}
	return value, nil
}

func (s *Store) Children(ctx context.Context, path string) (map[string][]byte, error) {
	p, err := kv.Clean(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte(p + "/")
	out := make(map[string][]byte)
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			rest := item.KeyCopy(nil)[len(prefix):]
			if bytes.IndexByte(rest, '/') >= 0 {
				continue
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[string(rest)] = v
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger scan %s: %w", p, err)
	}
	return out, nil
}

// Commit checks every condition and applies the writes in one badger
// transaction. A concurrent transaction touching the same keys makes badger
// report ErrConflict, which is surfaced as kv.ErrConflict.
func (s *Store) Commit(ctx context.Context, writes ...kv.Write) error {
	ws, err := kv.Prepare(writes...)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, w := range ws {
			if err := check(txn, w); err != nil {
				return err
			}
		}
		for _, w := range ws {
			if w.Delete {
				if err := txn.Delete([]byte(w.Path)); err != nil {
					return err
				}
				continue
			}
			if err := txn.Set([]byte(w.Path), w.Value); err != nil {
				return err
			}
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, kv.ErrConflict):
		return err
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: concurrent transaction: %w", kv.ErrConflict, err)
	}
	return fmt.Errorf("badger commit: %w", err)
}

func check(txn *badger.Txn, w kv.Write) error {
	if w.Cond == kv.Always {
		return nil
	}

	item, err := txn.Get([]byte(w.Path))
	if errors.Is(err, badger.ErrKeyNotFound) {
		if w.Cond == kv.IfAbsent {
			return nil
		}
		return kv.ConflictError(w)
	}
	if err != nil {
		return err
	}
	if w.Cond == kv.IfAbsent {
		return kv.ConflictError(w)
	}

	cur, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	if !bytes.Equal(cur, w.Expected) {
		return kv.ConflictError(w)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
