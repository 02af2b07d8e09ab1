package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleManager(t *testing.T) {
	t.Run("should write and remove the PID file", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data")
		lm := NewLifecycleManager(dir, zerolog.Nop())
		assert.Equal(t, filepath.Join(dir, "joe.pid"), lm.PIDFile())

		require.NoError(t, lm.Start())
		pid, err := ReadPID(lm.PIDFile())
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)
		assert.True(t, lm.IsRunning())

		require.NoError(t, lm.Stop())
		_, err = os.Stat(lm.PIDFile())
		assert.True(t, os.IsNotExist(err))
		assert.False(t, lm.IsRunning())

		// Stopping twice is harmless
		assert.NoError(t, lm.Stop())
	})

	t.Run("should replace a stale PID file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(PIDFile(dir), []byte("not-a-pid"), 0644))

		lm := NewLifecycleManager(dir, zerolog.Nop())
		require.NoError(t, lm.Start())

		pid, err := ReadPID(PIDFile(dir))
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)
	})

	t.Run("should refuse when another process holds the PID file", func(t *testing.T) {
		dir := t.TempDir()
		// The parent process is alive for the whole test run
		require.NoError(t, os.WriteFile(PIDFile(dir), []byte(strconv.Itoa(os.Getppid())), 0644))

		lm := NewLifecycleManager(dir, zerolog.Nop())
		assert.ErrorContains(t, lm.Start(), "already serving")
	})
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()

	t.Run("should trim whitespace", func(t *testing.T) {
		path := filepath.Join(dir, "ok.pid")
		require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0644))

		pid, err := ReadPID(path)
		require.NoError(t, err)
		assert.Equal(t, 4242, pid)
	})

	t.Run("should reject garbage", func(t *testing.T) {
		path := filepath.Join(dir, "bad.pid")
		require.NoError(t, os.WriteFile(path, []byte("-1"), 0644))

		_, err := ReadPID(path)
		assert.Error(t, err)
	})

	t.Run("should surface a missing file", func(t *testing.T) {
		_, err := ReadPID(filepath.Join(dir, "missing.pid"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()))
	assert.False(t, ProcessAlive(1<<22+12345))
}

func TestStartedAt(t *testing.T) {
	dir := t.TempDir()
	lm := NewLifecycleManager(dir, zerolog.Nop())
	require.NoError(t, lm.Start())

	started, err := StartedAt(lm.PIDFile())
	require.NoError(t, err)
	assert.False(t, started.IsZero())
}
