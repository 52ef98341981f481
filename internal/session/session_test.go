package session_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetdash/internal/session"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	s := session.New(path)
	require.NoError(t, s.Save("tok", "ops@example.com"))

	other := session.New(path)
	require.NoError(t, other.Load())
	assert.Equal(t, "tok", other.Token())
	assert.Equal(t, "ops@example.com", other.Email())
}

func TestLoadMissing(t *testing.T) {
	s := session.New(filepath.Join(t.TempDir(), "none.json"))
	assert.ErrorIs(t, s.Load(), session.ErrNoSession)
	assert.ErrorIs(t, session.New("").Load(), session.ErrNoSession)
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	err := session.New(path).Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, session.ErrNoSession)
}

func TestClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s := session.New(path)
	require.NoError(t, s.Save("tok", "a@b.c"))

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())
	assert.Empty(t, s.Token())
	assert.Empty(t, s.Email())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestMemoryOnly(t *testing.T) {
	s := session.New("")
	require.NoError(t, s.Save("tok", "a@b.c"))
	assert.Equal(t, "tok", s.Token())
	require.NoError(t, s.Clear())
	assert.Empty(t, s.Token())
}
