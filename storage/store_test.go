package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreWriteRoundtrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	rel := filepath.Join("a", "b", "content.txt")
	require.NoError(t, s.EnsureDir(rel))

	n, err := s.Write(rel, strings.NewReader("hello there"))
	require.NoError(t, err)
	assert.EqualValues(t, 11, n)
	assert.True(t, s.Exists(rel))

	got, err := os.ReadFile(s.FullPath(rel))
	require.NoError(t, err)
	assert.Equal(t, "hello there", string(got))
}

func TestStoreWriteFailsOnDirectoryTarget(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	// Plant a directory where the file should go
	require.NoError(t, os.MkdirAll(s.FullPath("taken"), 0o755))

	_, err = s.Write("taken", strings.NewReader("data"))
	assert.Error(t, err)
}

func TestStoreRemoveToleratesMissing(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, s.Remove(filepath.Join("never", "existed.bin")))
}

func TestStoreRemove(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Write("gone.bin", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, s.Remove("gone.bin"))
	assert.False(t, s.Exists("gone.bin"))
}

func TestNewRequiresBase(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
