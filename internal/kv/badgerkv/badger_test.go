package badgerkv

import (
	"context"
	"testing"

	"github.com/emoelevate/notesledger/internal/kv"
	"github.com/emoelevate/notesledger/internal/kv/kvtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Contract(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Store {
		s, err := Open("")
		require.NoError(t, err)
		return s
	})
}

func TestStore_PersistsOnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, s, "notesBlockchain/1000", []byte("b")))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	children, err := s.Children(ctx, "notesBlockchain")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"1000": []byte("b")}, children)
}
