// Package kv defines the hierarchical key-value store the notes ledger is
// written against. Paths are "/"-separated; a node may hold a value and
// have children at the same time. Every backend implements Store with
// all-or-nothing multi-path commits and per-write conditions, which is
// what lets a ledger block, the head pointer and a note record land
// together.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emoelevate/notesledger/internal/common"
)

var (
	// ErrNotFound is returned by Get for a path without a value. It wraps
	// common.ErrorNotFound.
	ErrNotFound = fmt.Errorf("kv: %w", common.ErrorNotFound)

	// ErrConflict is returned by Commit when a write condition does not hold.
	// Nothing from the commit was applied.
	ErrConflict = errors.New("kv: condition failed")

	// ErrTimeout is returned when a storage round-trip exceeded its deadline.
	// The outcome of a timed out Commit is unknown.
	ErrTimeout = errors.New("kv: operation timed out")

	ErrInvalidPath = errors.New("kv: invalid path")
)

// Condition guards a single Write.
type Condition int

const (
	// Always writes unconditionally.
	Always Condition = iota
	// IfAbsent requires the path to hold no value.
	IfAbsent
	// IfEquals requires the path to hold exactly Write.Expected.
	IfEquals
)

func (c Condition) String() string {
	switch c {
	case Always:
		return "always"
	case IfAbsent:
		return "if-absent"
	case IfEquals:
		return "if-equals"
	}
	return fmt.Sprintf("condition(%d)", int(c))
}

// Write is one operation of a Commit.
type Write struct {
	Path     string
	Value    []byte
	Delete   bool
	Cond     Condition
	Expected []byte
}

// Put stores v at path unconditionally.
func Put(path string, v []byte) Write {
	return Write{Path: path, Value: v}
}

// PutIfAbsent stores v at path only when nothing is stored there yet.
func PutIfAbsent(path string, v []byte) Write {
	return Write{Path: path, Value: v, Cond: IfAbsent}
}

// PutIfEquals replaces the value at path only when it currently equals expected.
func PutIfEquals(path string, expected, v []byte) Write {
	return Write{Path: path, Value: v, Cond: IfEquals, Expected: expected}
}

// Remove deletes the value at path. Removing a missing path is not an error.
func Remove(path string) Write {
	return Write{Path: path, Delete: true}
}

// Store is a hierarchical key-value store.
type Store interface {
	// Get returns the value stored at path or ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)

	// Children returns the values stored directly below path, keyed by the
	// last path segment. Deeper descendants are not included.
	Children(ctx context.Context, path string) (map[string][]byte, error)

	// Commit applies writes atomically. If any condition fails it returns
	// an error wrapping ErrConflict and applies nothing.
	Commit(ctx context.Context, writes ...Write) error

	Close() error
}

// Clean normalizes path: surrounding slashes are trimmed and every segment
// must be non-empty and not "." or "..".
func Clean(path string) (string, error) {
	p := strings.Trim(path, "/")
	if p == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return p, nil
}

// Join concatenates segments with "/".
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Parent returns everything before the last segment of a clean path, or ""
// for a top-level path.
func Parent(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// Base returns the last segment of a clean path.
func Base(path string) string {
	return path[strings.LastIndexByte(path, '/')+1:]
}

// Prepare validates writes and returns copies with clean paths. Two writes
// to the same path in one commit are rejected. Backends call it first in
// Commit.
func Prepare(writes ...Write) ([]Write, error) {
	out := make([]Write, 0, len(writes))
	seen := make(map[string]struct{}, len(writes))
	for _, w := range writes {
		p, err := Clean(w.Path)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[p]; dup {
			return nil, fmt.Errorf("%w: %q written twice in one commit", ErrInvalidPath, p)
		}
		seen[p] = struct{}{}
		if w.Delete && w.Cond != Always {
			return nil, fmt.Errorf("%w: conditional delete of %q", ErrInvalidPath, p)
		}
		if !w.Delete && w.Value == nil {
			w.Value = []byte{}
		}
		w.Path = p
		out = append(out, w)
	}
	return out, nil
}

// ConflictError builds the error a backend returns for a failed condition.
func ConflictError(w Write) error {
	return fmt.Errorf("%w: %s %s", ErrConflict, w.Cond, w.Path)
}

// IsRetryable reports whether err is a timeout or a lost condition, both of
// which a caller may retry after re-reading state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConflict)
}
