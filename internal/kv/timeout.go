package kv

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithTimeout wraps s so that every call returns within d. A call that runs
// longer returns an error wrapping ErrTimeout even if the backend ignores
// its context; the backend call is left to finish in the background.
func WithTimeout(s Store, d time.Duration) Store {
	return &timeoutStore{next: s, d: d}
}

type timeoutStore struct {
	next Store
	d    time.Duration
}

type result[T any] struct {
	v   T
	err error
}

func run[T any](ctx context.Context, d time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- result[T]{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %s after %s: %w", ErrTimeout, op, d, r.err)
		}
		return r.v, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %s after %s", ErrTimeout, op, d)
		}
		return zero, ctx.Err()
	}
}

func (t *timeoutStore) Get(ctx context.Context, path string) ([]byte, error) {
	return run(ctx, t.d, "get "+path, func(ctx context.Context) ([]byte, error) {
		return t.next.Get(ctx, path)
	})
}

func (t *timeoutStore) Children(ctx context.Context, path string) (map[string][]byte, error) {
	return run(ctx, t.d, "children "+path, func(ctx context.Context) (map[string][]byte, error) {
		return t.next.Children(ctx, path)
	})
}

func (t *timeoutStore) Commit(ctx context.Context, writes ...Write) error {
	_, err := run(ctx, t.d, "commit", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.next.Commit(ctx, writes...)
	})
	return err
}

func (t *timeoutStore) Close() error {
	return t.next.Close()
}
