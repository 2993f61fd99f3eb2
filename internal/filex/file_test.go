package filex

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureDir_CreatesNestedDirectory(t *testing.T) {
	want := filepath.Join(t.TempDir(), "data", "badger")

	require.NoError(t, EnsureDir(want))

	fi, err := os.Stat(want)
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "should create a directory")

	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0o700), fi.Mode().Perm()&0o700)
	}
}

func TestEnsureDir_Idempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ledger")
	require.NoError(t, EnsureDir(dir))
	require.NoError(t, EnsureDir(dir))
}

func TestEnsureDir_FileInTheWay(t *testing.T) {
	file := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	require.Error(t, EnsureDir(filepath.Join(file, "sub")))
}

func TestEnsureParentDir(t *testing.T) {
	tmp := t.TempDir()
	dsn := filepath.Join(tmp, "var", "notesledger.db")

	require.NoError(t, EnsureParentDir(dsn))
	fi, err := os.Stat(filepath.Join(tmp, "var"))
	require.NoError(t, err)
	require.True(t, fi.IsDir())

	_, err = os.Stat(dsn)
	require.True(t, os.IsNotExist(err), "only the directory is created")

	for _, skip := range []string{"", ":memory:", "file:ledger.db?mode=memory", "local.db"} {
		require.NoError(t, EnsureParentDir(skip), skip)
	}
}
