// Package memkv is an in-process kv.Store backed by a map. It is used by
// tests and by the "memory" backend.
package memkv

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/emoelevate/notesledger/internal/kv"
)

var ErrClosed = errors.New("memkv: store closed")

type Store struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	p, err := kv.Clean(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	v, ok := s.data[p]
	if !ok {
		return nil, kv.ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (s *Store) Children(ctx context.Context, path string) (map[string][]byte, error) {
	p, err := kv.Clean(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	prefix := p + "/"
	out := make(map[string][]byte)
	for k, v := range s.data {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok || strings.Contains(rest, "/") {
			continue
		}
		out[rest] = bytes.Clone(v)
	}
	return out, nil
}

func (s *Store) Commit(ctx context.Context, writes ...kv.Write) error {
	ws, err := kv.Prepare(writes...)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	for _, w := range ws {
		cur, exists := s.data[w.Path]
		switch w.Cond {
		case kv.IfAbsent:
			if exists {
				return kv.ConflictError(w)
			}
		case kv.IfEquals:
			if !exists || !bytes.Equal(cur, w.Expected) {
				return kv.ConflictError(w)
			}
		}
	}

	for _, w := range ws {
		if w.Delete {
			delete(s.data, w.Path)
			continue
		}
		s.data[w.Path] = bytes.Clone(w.Value)
	}
	return nil
}

// Len returns the number of stored values.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
