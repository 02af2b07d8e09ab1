package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/joe/internal/metrics"
	"github.com/harun/joe/internal/tracing"
	"github.com/harun/joe/pkg/assistant"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "joe.commandqueue"

// ErrClosed is returned for tasks enqueued on, or still queued at, a closed queue
var ErrClosed = errors.New("command queue is closed")

// Task is one unit of work
type Task func(ctx context.Context) (any, error)

// ThreadLane names the lane for work on an existing thread
func ThreadLane(h assistant.Handle) string {
	return "thread:" + h.String()
}

// NewLane names a private lane for a request that has no thread yet
func NewLane(requestID string) string {
	return "new:" + requestID
}

// laneKind is the metrics label for a lane, e.g. "thread"
func laneKind(lane string) string {
	if kind, _, ok := strings.Cut(lane, ":"); ok {
		return kind
	}
	return lane
}

// Config configures a Queue
type Config struct {
	// WarnAfter logs a warning when a task waits longer than this. Zero disables.
	WarnAfter time.Duration
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

type job struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	done       chan result
}

type result struct {
	value any
	err   error
}

type lane struct {
	queue   []*job
	running bool
}

// Queue serializes tasks per lane
type Queue struct {
	warnAfter time.Duration
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	mu     sync.Mutex
	lanes  map[string]*lane
	seq    int
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Queue
func New(cfg Config) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		warnAfter: cfg.WarnAfter,
		logger:    cfg.Logger.With().Str("component", "commandqueue").Logger(),
		metrics:   cfg.Metrics,
		lanes:     make(map[string]*lane),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Enqueue adds task to the lane and waits for its result. If ctx ends while
// the task is still queued, the task is dropped and ctx.Err() returned.
func (q *Queue) Enqueue(ctx context.Context, laneName string, task Task) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, tracerName, "commandqueue.enqueue",
		attribute.String("lane", laneName),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, q.logger).With().Str("lane", laneName).Logger()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, tracing.Fail(span, ErrClosed)
	}
	l, ok := q.lanes[laneName]
	if !ok {
		l = &lane{}
		q.lanes[laneName] = l
	}
	q.seq++
	j := &job{
		id:         fmt.Sprintf("%s-%d", laneName, q.seq),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		done:       make(chan result, 1),
	}
	l.queue = append(l.queue, j)
	position := len(l.queue)
	q.publishDepthLocked(laneKind(laneName))
	q.mu.Unlock()

	logger.Debug().Str("task_id", j.id).Int("position", position).Msg("Task enqueued")

	q.dispatch(laneName)

	var warn <-chan time.Time
	if q.warnAfter > 0 {
		timer := time.NewTimer(q.warnAfter)
		defer timer.Stop()
		warn = timer.C
	}

	for {
		select {
		case r := <-j.done:
			if r.err != nil {
				tracing.Fail(span, r.err)
			}
			return r.value, r.err
		case <-warn:
			if pos := q.position(laneName, j); pos >= 0 {
				logger.Warn().
					Str("task_id", j.id).
					Dur("waited", time.Since(j.enqueuedAt)).
					Int("position", pos).
					Msg("Task waiting longer than expected")
			}
		case <-ctx.Done():
			if q.remove(laneName, j) {
				logger.Debug().Str("task_id", j.id).Msg("Task abandoned while queued")
				return nil, tracing.Fail(span, ctx.Err())
			}
			// Already running; the task sees the same ctx and returns soon
			r := <-j.done
			return r.value, r.err
		}
	}
}

// dispatch starts the next task of an idle lane and forgets empty lanes
func (q *Queue) dispatch(laneName string) {
	q.mu.Lock()
	l, ok := q.lanes[laneName]
	if !ok || l.running {
		q.mu.Unlock()
		return
	}
	if len(l.queue) == 0 {
		delete(q.lanes, laneName)
		q.mu.Unlock()
		return
	}
	if q.closed {
		q.mu.Unlock()
		return
	}

	j := l.queue[0]
	l.queue = l.queue[1:]
	l.running = true
	q.publishDepthLocked(laneKind(laneName))
	q.wg.Add(1)
	q.mu.Unlock()

	go q.run(laneName, j)
}

func (q *Queue) run(laneName string, j *job) {
	defer q.wg.Done()

	ctx, span := tracing.StartSpan(j.ctx, tracerName, "commandqueue.execute",
		attribute.String("lane", laneName),
		attribute.String("task_id", j.id),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, q.logger).With().Str("lane", laneName).Logger()

	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(q.ctx, cancel)

	started := time.Now()
	value, err := j.task(runCtx)
	duration := time.Since(started)

	stop()
	cancel()

	if err != nil {
		tracing.Fail(span, err)
		logger.Debug().Str("task_id", j.id).Dur("duration", duration).Err(err).Msg("Task failed")
	} else {
		logger.Debug().Str("task_id", j.id).Dur("duration", duration).Msg("Task completed")
	}
	j.done <- result{value: value, err: err}

	q.mu.Lock()
	if l, ok := q.lanes[laneName]; ok {
		l.running = false
	}
	q.mu.Unlock()

	q.dispatch(laneName)
}

// remove drops a still-queued job and reports whether it was found
func (q *Queue) remove(laneName string, j *job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.lanes[laneName]
	if !ok {
		return false
	}
	for i, queued := range l.queue {
		if queued == j {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			q.publishDepthLocked(laneKind(laneName))
			if len(l.queue) == 0 && !l.running {
				delete(q.lanes, laneName)
			}
			return true
		}
	}
	return false
}

// position returns the queue index of j, or -1 once it has started
func (q *Queue) position(laneName string, j *job) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if l, ok := q.lanes[laneName]; ok {
		for i, queued := range l.queue {
			if queued == j {
				return i
			}
		}
	}
	return -1
}

// publishDepthLocked reports the queued total for one lane kind. Caller holds mu.
func (q *Queue) publishDepthLocked(kind string) {
	depth := 0
	for name, l := range q.lanes {
		if laneKind(name) == kind {
			depth += len(l.queue)
		}
	}
	q.metrics.SetQueueDepth(kind, depth)
}

// LaneStats describes one lane
type LaneStats struct {
	Queued  int  `json:"queued"`
	Running bool `json:"running"`
}

// Stats returns a snapshot of all active lanes
func (q *Queue) Stats() map[string]LaneStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := make(map[string]LaneStats, len(q.lanes))
	for name, l := range q.lanes {
		stats[name] = LaneStats{Queued: len(l.queue), Running: l.running}
	}
	return stats
}

// Pending returns the number of queued (not running) tasks in a lane
func (q *Queue) Pending(laneName string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l, ok := q.lanes[laneName]; ok {
		return len(l.queue)
	}
	return 0
}

// Close rejects queued tasks, cancels running ones and waits for them
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	rejected := 0
	for name, l := range q.lanes {
		for _, j := range l.queue {
			j.done <- result{err: ErrClosed}
			rejected++
		}
		l.queue = nil
		q.metrics.SetQueueDepth(laneKind(name), 0)
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	if rejected > 0 {
		q.logger.Info().Int("rejected", rejected).Msg("Command queue closed")
	}
	return nil
}
