package logger

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestWriter(t *testing.T, path string, rotation Rotation) *RotatingWriter {
	t.Helper()
	w, err := NewRotatingWriter(path, rotation)
	require.NoError(t, err)
	w.now = func() time.Time { return fixedNow }
	t.Cleanup(func() { w.Close() })
	return w
}

func rotatedFiles(t *testing.T, path string) []string {
	t.Helper()
	matches, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	return matches
}

func TestNewRotatingWriter(t *testing.T) {
	t.Run("should create the data directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "joe.log")

		newTestWriter(t, path, Rotation{MaxSizeMB: 10})

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
	})

	t.Run("should honour a restricted file mode", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audit.log")

		newTestWriter(t, path, Rotation{MaxSizeMB: 10, Perm: 0600})

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("should continue an existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "joe.log")
		require.NoError(t, os.WriteFile(path, []byte("earlier\n"), 0644))

		w := newTestWriter(t, path, Rotation{maxBytes: 1024})
		_, err := w.Write([]byte("later\n"))
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "earlier\nlater\n", string(data))
	})
}

func TestRotatingWriterRotation(t *testing.T) {
	t.Run("should rotate before a write that would pass the limit", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "joe.log")
		w := newTestWriter(t, path, Rotation{maxBytes: 32})

		_, err := w.Write([]byte(`{"message":"Resumed thread"}` + "\n"))
		require.NoError(t, err)
		_, err = w.Write([]byte(`{"message":"Created thread"}` + "\n"))
		require.NoError(t, err)

		rotated := rotatedFiles(t, path)
		require.Equal(t, []string{path + ".20260314-093000"}, rotated)

		old, err := os.ReadFile(rotated[0])
		require.NoError(t, err)
		assert.Contains(t, string(old), "Resumed thread")

		live, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(live), "Created thread")
		assert.NotContains(t, string(live), "Resumed thread")
	})

	t.Run("should keep an oversized write whole", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "joe.log")
		w := newTestWriter(t, path, Rotation{maxBytes: 4})

		line := strings.Repeat("x", 64)
		n, err := w.Write([]byte(line))
		require.NoError(t, err)
		assert.Equal(t, len(line), n)
		assert.Empty(t, rotatedFiles(t, path))
	})

	t.Run("should not overwrite a rotation from the same second", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "joe.log")
		w := newTestWriter(t, path, Rotation{maxBytes: 8})

		for _, line := range []string{"first\n", "second\n", "third\n"} {
			_, err := w.Write([]byte(line))
			require.NoError(t, err)
		}

		assert.ElementsMatch(t, []string{
			path + ".20260314-093000",
			path + ".20260314-093000-1",
		}, rotatedFiles(t, path))
	})

	t.Run("should compress rotated files before close returns", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audit.log")
		w, err := NewRotatingWriter(path, Rotation{maxBytes: 8, Compress: true, Perm: 0600})
		require.NoError(t, err)
		w.now = func() time.Time { return fixedNow }

		_, err = w.Write([]byte("login failure\n"))
		require.NoError(t, err)
		_, err = w.Write([]byte("login success\n"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		gz := path + ".20260314-093000.gz"
		assert.Equal(t, []string{gz}, rotatedFiles(t, path))

		info, err := os.Stat(gz)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		f, err := os.Open(gz)
		require.NoError(t, err)
		defer f.Close()
		r, err := gzip.NewReader(f)
		require.NoError(t, err)
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "login failure\n", string(data))
	})
}

func TestRotatingWriterConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "joe.log")
	w := newTestWriter(t, path, Rotation{maxBytes: 256})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, err := w.Write([]byte("poll\n"))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close())

	total := 0
	for _, p := range append(rotatedFiles(t, path), path) {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		total += strings.Count(string(data), "poll\n")
	}
	assert.Equal(t, 200, total)
}

func TestRotatingWriterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "joe.log")
	w, err := NewRotatingWriter(path, Rotation{MaxSizeMB: 1})
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late\n"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestRemoveExpired(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "joe.log")
	old := time.Now().AddDate(0, 0, -10)

	touch := func(name string, mod time.Time) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
		require.NoError(t, os.Chtimes(p, mod, mod))
		return p
	}

	expired := touch("joe.log.20200101-120000", old)
	expiredGz := touch("joe.log.20200102-120000.gz", old)
	recent := touch("joe.log.20260101-120000", time.Now())
	unrelated := touch("joe.log.lock", old)
	neighbour := touch("audit.log", old)

	newTestWriter(t, path, Rotation{MaxSizeMB: 10, MaxAgeDays: 7})

	for _, p := range []string{expired, expiredGz} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), p)
	}
	for _, p := range []string{recent, unrelated, neighbour} {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}
}
