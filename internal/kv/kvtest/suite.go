// Package kvtest holds the behavior every kv.Store backend must show. Backend
// packages call Run from their tests.
package kvtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/emoelevate/notesledger/internal/common"
	"github.com/emoelevate/notesledger/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) kv.Store

// Run executes the shared store behavior tests against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s kv.Store)
	}{
		{"GetMissing", testGetMissing},
		{"PutGet", testPutGet},
		{"Overwrite", testOverwrite},
		{"Children", testChildren},
		{"PutIfAbsent", testPutIfAbsent},
		{"PutIfEquals", testPutIfEquals},
		{"CommitIsAtomic", testCommitIsAtomic},
		{"Remove", testRemove},
		{"InvalidPath", testInvalidPath},
		{"ConcurrentCompareAndSwap", testConcurrentCAS},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

func testGetMissing(t *testing.T, s kv.Store) {
	_, err := s.Get(context.Background(), "users/nobody")
	require.ErrorIs(t, err, kv.ErrNotFound)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func testPutGet(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, s, "/users/c1/therapyNotes/s1/", []byte(`{"notes":"x"}`)))

	v, err := s.Get(ctx, "users/c1/therapyNotes/s1")
	require.NoError(t, err)
	assert.Equal(t, `{"notes":"x"}`, string(v))
}

func testOverwrite(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, s, "a/b", []byte("old")))
	require.NoError(t, kv.Set(ctx, s, "a/b", []byte("new")))

	v, err := s.Get(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, "new", string(v))
}

func testChildren(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, kv.Update(ctx, s, "notesBlockchain", map[string][]byte{
		"1000":       []byte("b1"),
		"1001":       []byte("b2"),
		"latestHash": []byte(`"h"`),
	}))
	require.NoError(t, kv.Set(ctx, s, "notesBlockchain/1001/deeper", []byte("nested")))
	require.NoError(t, kv.Set(ctx, s, "notesBlockchainOther/1", []byte("sibling")))
	require.NoError(t, kv.Set(ctx, s, "notesBlockchain", []byte("self")))

	got, err := s.Children(ctx, "notesBlockchain")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"1000":       []byte("b1"),
		"1001":       []byte("b2"),
		"latestHash": []byte(`"h"`),
	}, got)

	empty, err := s.Children(ctx, "nothing/here")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testPutIfAbsent(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, s.Commit(ctx, kv.PutIfAbsent("k", []byte("first"))))

	err := s.Commit(ctx, kv.PutIfAbsent("k", []byte("second")))
	require.ErrorIs(t, err, kv.ErrConflict)
	assert.True(t, kv.IsRetryable(err))

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "first", string(v))
}

func testPutIfEquals(t *testing.T, s kv.Store) {
	ctx := context.Background()

	err := s.Commit(ctx, kv.PutIfEquals("head", []byte("0"), []byte("h1")))
	require.ErrorIs(t, err, kv.ErrConflict, "missing path never equals")

	require.NoError(t, kv.Set(ctx, s, "head", []byte("h1")))
	require.NoError(t, s.Commit(ctx, kv.PutIfEquals("head", []byte("h1"), []byte("h2"))))

	err = s.Commit(ctx, kv.PutIfEquals("head", []byte("h1"), []byte("h3")))
	require.ErrorIs(t, err, kv.ErrConflict)

	v, err := s.Get(ctx, "head")
	require.NoError(t, err)
	assert.Equal(t, "h2", string(v))
}

func testCommitIsAtomic(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, s, "taken", []byte("x")))

	err := s.Commit(ctx,
		kv.Put("block/1", []byte("b")),
		kv.Put("record/1", []byte("r")),
		kv.PutIfAbsent("taken", []byte("y")),
	)
	require.ErrorIs(t, err, kv.ErrConflict)

	for _, p := range []string{"block/1", "record/1"} {
		_, err := s.Get(ctx, p)
		assert.ErrorIs(t, err, kv.ErrNotFound, p)
	}
	v, err := s.Get(ctx, "taken")
	require.NoError(t, err)
	assert.Equal(t, "x", string(v))
}

func testRemove(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, s, "gone/soon", []byte("x")))
	require.NoError(t, s.Commit(ctx, kv.Remove("gone/soon")))
	require.NoError(t, s.Commit(ctx, kv.Remove("gone/soon")), "idempotent")

	_, err := s.Get(ctx, "gone/soon")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func testInvalidPath(t *testing.T, s kv.Store) {
	ctx := context.Background()
	for _, p := range []string{"", "/", "a//b", "a/../b", "./a"} {
		assert.ErrorIs(t, kv.Set(ctx, s, p, []byte("x")), kv.ErrInvalidPath, p)
	}
	err := s.Commit(ctx, kv.Put("dup", []byte("1")), kv.Put("/dup/", []byte("2")))
	assert.ErrorIs(t, err, kv.ErrInvalidPath)
}

func testConcurrentCAS(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, s, "head", []byte("0")))

	const n = 8
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Commit(ctx, kv.PutIfEquals("head", []byte("0"), []byte{byte('a' + i)}))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, kv.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "exactly one writer moves the head")
	assert.Equal(t, int32(n-1), conflicts.Load())
}
