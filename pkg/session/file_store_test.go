package session

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harun/joe/internal/tracing"
	"github.com/harun/joe/pkg/conversation"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreLayout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.SaveHandle(ctx, "default", "thread_abc"))
	require.NoError(t, s.AppendMessage(ctx, "default", conversation.NewMessage(conversation.RoleUser, "hi")))

	data, err := os.ReadFile(filepath.Join(dir, "default.handle"))
	require.NoError(t, err)
	assert.Equal(t, "thread_abc\n", string(data))

	info, err := os.Stat(filepath.Join(dir, "default.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStoreDebugLogging(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.DebugLevel)
	t.Cleanup(func() { log.Logger = prev })

	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := tracing.WithTraceID(context.Background(), "trace-1")

	require.NoError(t, s.SaveHandle(ctx, "default", "thread_abc"))
	require.NoError(t, s.AppendMessage(ctx, "default", conversation.NewMessage(conversation.RoleUser, "hi")))

	out := buf.String()
	assert.Contains(t, out, `"message":"Handle saved"`)
	assert.Contains(t, out, `"message":"Message appended"`)
	assert.Contains(t, out, `"trace_id":"trace-1"`)
	assert.Contains(t, out, `"profile":"default"`)
}

func TestFileStoreSkipsCorruptLines(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	good := conversation.NewMessage(conversation.RoleUser, "hi")
	require.NoError(t, s.AppendMessage(ctx, "default", good))

	f, err := os.OpenFile(filepath.Join(dir, "default.jsonl"), os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n\n{\"profile\":\"default\",\"message\":{\"role\":\"user\"}}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	msgs, err := s.LoadTranscript(ctx, "default")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, good.ID, msgs[0].ID)
}

func TestFileStoreSaveEmptyHandleClears(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.SaveHandle(ctx, "default", "thread_abc"))
	require.NoError(t, s.SaveHandle(ctx, "default", ""))

	_, err = os.Stat(s.handlePath("default"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreLastActivityUsesNewestFile(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.SaveHandle(ctx, "default", "thread_abc"))
	require.NoError(t, s.AppendMessage(ctx, "default", conversation.NewMessage(conversation.RoleUser, "hi")))

	old := time.Now().Add(-48 * time.Hour)
	newer := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(s.handlePath("default"), old, old))
	require.NoError(t, os.Chtimes(s.transcriptPath("default"), newer, newer))

	last, err := s.LastActivity(ctx, "default")
	require.NoError(t, err)
	assert.WithinDuration(t, newer, last, time.Second)
}

func TestFileStoreConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.AppendMessage(ctx, "default", conversation.NewMessage(conversation.RoleUser, "hi")))
		}()
	}
	wg.Wait()

	msgs, err := s.LoadTranscript(ctx, "default")
	require.NoError(t, err)
	assert.Len(t, msgs, 20)
}
