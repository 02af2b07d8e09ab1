package commandqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/joe/internal/metrics"
	"github.com/harun/joe/pkg/assistant"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaneNames(t *testing.T) {
	h, err := assistant.ParseHandle("thread_abc")
	require.NoError(t, err)

	assert.Equal(t, "thread:thread_abc", ThreadLane(h))
	assert.Equal(t, "new:req1", NewLane("req1"))
	assert.Equal(t, "thread", laneKind(ThreadLane(h)))
	assert.Equal(t, "new", laneKind(NewLane("req1")))
	assert.Equal(t, "main", laneKind("main"))
}

func TestQueue_Enqueue(t *testing.T) {
	t.Run("should return the task result", func(t *testing.T) {
		q := New(Config{})
		defer q.Close()

		v, err := q.Enqueue(context.Background(), "test", func(ctx context.Context) (any, error) {
			return "result", nil
		})

		require.NoError(t, err)
		assert.Equal(t, "result", v)
	})

	t.Run("should return the task error", func(t *testing.T) {
		q := New(Config{})
		defer q.Close()
		expected := errors.New("task failed")

		v, err := q.Enqueue(context.Background(), "test", func(ctx context.Context) (any, error) {
			return nil, expected
		})

		assert.Equal(t, expected, err)
		assert.Nil(t, v)
	})

	t.Run("should forget idle lanes", func(t *testing.T) {
		q := New(Config{})
		defer q.Close()

		_, err := q.Enqueue(context.Background(), "test", func(ctx context.Context) (any, error) {
			return nil, nil
		})
		require.NoError(t, err)

		assert.Eventually(t, func() bool { return len(q.Stats()) == 0 }, time.Second, 5*time.Millisecond)
	})
}

func TestQueue_SerialPerLane(t *testing.T) {
	q := New(Config{})
	defer q.Close()

	var running, maxRunning atomic.Int32
	var mu sync.Mutex
	var order []int

	release := make(chan struct{})
	first := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = q.Enqueue(context.Background(), "thread:a", func(ctx context.Context) (any, error) {
			close(first)
			<-release
			mu.Lock()
			order = append(order, 0)
			mu.Unlock()
			return nil, nil
		})
	}()
	<-first

	for i := 1; i <= 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Enqueue(context.Background(), "thread:a", func(ctx context.Context) (any, error) {
				n := running.Add(1)
				if n > maxRunning.Load() {
					maxRunning.Store(n)
				}
				time.Sleep(2 * time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				running.Add(-1)
				return nil, nil
			})
		}()
		require.Eventually(t, func() bool { return q.Pending("thread:a") == i }, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestQueue_ConcurrentLanes(t *testing.T) {
	q := New(Config{})
	defer q.Close()

	started := make(chan string, 2)
	release := make(chan struct{})

	var wg sync.WaitGroup
	for _, lane := range []string{"thread:a", "thread:b"} {
		lane := lane
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Enqueue(context.Background(), lane, func(ctx context.Context) (any, error) {
				started <- lane
				<-release
				return nil, nil
			})
		}()
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case lane := <-started:
			got[lane] = true
		case <-time.After(time.Second):
			t.Fatal("lanes did not run concurrently")
		}
	}
	close(release)
	wg.Wait()

	assert.Len(t, got, 2)
}

func TestQueue_CallerCancelWhileQueued(t *testing.T) {
	m := metrics.NewMetrics()
	q := New(Config{Metrics: m})
	defer q.Close()

	release := make(chan struct{})
	first := make(chan struct{})
	go func() {
		_, _ = q.Enqueue(context.Background(), "thread:a", func(ctx context.Context) (any, error) {
			close(first)
			<-release
			return nil, nil
		})
	}()
	<-first

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(ctx, "thread:a", func(ctx context.Context) (any, error) {
			ran.Store(true)
			return nil, nil
		})
		errCh <- err
	}()
	require.Eventually(t, func() bool { return q.Pending("thread:a") == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues("thread")))

	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, 0, q.Pending("thread:a"))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues("thread")))

	close(release)
	time.Sleep(10 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestQueue_Close(t *testing.T) {
	t.Run("should cancel running tasks and reject queued ones", func(t *testing.T) {
		q := New(Config{})

		first := make(chan struct{})
		runErr := make(chan error, 1)
		go func() {
			_, err := q.Enqueue(context.Background(), "thread:a", func(ctx context.Context) (any, error) {
				close(first)
				<-ctx.Done()
				return nil, ctx.Err()
			})
			runErr <- err
		}()
		<-first

		queuedErr := make(chan error, 1)
		go func() {
			_, err := q.Enqueue(context.Background(), "thread:a", func(ctx context.Context) (any, error) {
				return nil, nil
			})
			queuedErr <- err
		}()
		require.Eventually(t, func() bool { return q.Pending("thread:a") == 1 }, time.Second, time.Millisecond)

		require.NoError(t, q.Close())

		assert.ErrorIs(t, <-runErr, context.Canceled)
		assert.ErrorIs(t, <-queuedErr, ErrClosed)
	})

	t.Run("should reject tasks after close", func(t *testing.T) {
		q := New(Config{})
		require.NoError(t, q.Close())
		require.NoError(t, q.Close())

		_, err := q.Enqueue(context.Background(), "thread:a", func(ctx context.Context) (any, error) {
			return nil, nil
		})
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestQueue_Stats(t *testing.T) {
	q := New(Config{})
	defer q.Close()

	first := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = q.Enqueue(context.Background(), "new:r1", func(ctx context.Context) (any, error) {
			close(first)
			<-release
			return nil, nil
		})
	}()
	<-first

	stats := q.Stats()
	assert.Equal(t, LaneStats{Queued: 0, Running: true}, stats["new:r1"])

	close(release)
	<-done
}
