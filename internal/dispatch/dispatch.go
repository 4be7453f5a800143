// Package dispatch runs fire-and-forget work off the request path: Slack
// replies and message handling that must not delay the webhook response.
package dispatch

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/tasklane/internal/telemetry"
)

// Job is one unit of work. Its error is logged and never retried.
type Job func(ctx context.Context) error

type task struct {
	name string
	fn   Job
}

// Dispatcher is a fixed pool of workers, each draining its own bounded
// queue. Jobs submitted under the same key land on the same worker and run
// one at a time in submission order. Unkeyed jobs are spread round-robin and
// run in no particular order relative to each other or to the HTTP response
// that scheduled them.
type Dispatcher struct {
	logger     *slog.Logger
	jobTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queues []chan task
	next   atomic.Uint64

	wg      sync.WaitGroup
	started atomic.Bool
	dropped atomic.Int64
	failed  atomic.Int64
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a dispatcher with the given worker count. queueSize is the
// total capacity, split evenly across the workers' queues.
// jobTimeout bounds each job; zero means no per-job deadline.
func New(logger *slog.Logger, workers, queueSize int, jobTimeout time.Duration) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	per := (queueSize + workers - 1) / workers
	if per < 1 {
		per = 1
	}
	queues := make([]chan task, workers)
	for i := range queues {
		queues[i] = make(chan task, per)
	}
	return &Dispatcher{
		logger:     logger,
		jobTimeout: jobTimeout,
		queues:     queues,
	}
}

// Start launches the workers and registers metrics. A second call is a no-op.
// Jobs run under a context derived from ctx, never from the submitting request.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		d.logger.Warn("dispatch: Start called more than once")
		return
	}
	d.baseCtx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))
	d.registerMetrics()
	for _, q := range d.queues {
		d.wg.Add(1)
		go d.worker(q)
	}
}

// Submit enqueues an unkeyed job. See SubmitKeyed.
func (d *Dispatcher) Submit(name string, fn Job) bool {
	return d.SubmitKeyed("", name, fn)
}

// SubmitKeyed enqueues fn without blocking. Jobs sharing a non-empty key run
// serially in submission order. It returns false when the key's queue is
// full or the dispatcher is draining; the job is dropped and logged.
func (d *Dispatcher) SubmitKeyed(key, name string, fn Job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		d.logger.Warn("dispatch: dropped job, dispatcher draining", "job", name)
		return false
	}
	q := d.queues[d.shard(key)]
	select {
	case q <- task{name: name, fn: fn}:
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn("dispatch: dropped job, queue full", "job", name, "queue_size", cap(q))
		return false
	}
}

func (d *Dispatcher) shard(key string) int {
	n := uint64(len(d.queues))
	if key == "" {
		return int((d.next.Add(1) - 1) % n)
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum64() % n)
}

func (d *Dispatcher) worker(q <-chan task) {
	defer d.wg.Done()
	for t := range q {
		d.run(t)
	}
}

func (d *Dispatcher) run(t task) {
	ctx := d.baseCtx
	if d.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.jobTimeout)
		defer cancel()
	}
	start := time.Now()
	if err := d.safeCall(ctx, t); err != nil {
		d.failed.Add(1)
		d.logger.Error("dispatch: job failed", "job", t.name, "error", err,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

func (d *Dispatcher) safeCall(ctx context.Context, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			d.logger.Error("dispatch: job panicked", "job", t.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	return t.fn(ctx)
}

// Drain stops accepting jobs, lets queued jobs finish and waits for the
// workers to exit or ctx to expire. On expiry the job context is cancelled.
func (d *Dispatcher) Drain(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	if !d.started.Load() {
		return
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn("dispatch: drain timed out, cancelling in-flight jobs", "pending", d.Len())
		d.cancel()
		<-done
	}
	d.cancel()
}

// Len returns the number of queued jobs across all workers.
func (d *Dispatcher) Len() int {
	n := 0
	for _, q := range d.queues {
		n += len(q)
	}
	return n
}

// Dropped returns the number of jobs rejected by Submit.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Failed returns the number of jobs that returned an error or panicked.
func (d *Dispatcher) Failed() int64 {
	return d.failed.Load()
}

func (d *Dispatcher) registerMetrics() {
	meter := telemetry.Meter("tasklane/dispatch")

	_, _ = meter.Int64ObservableGauge("tasklane.dispatch.queue_depth",
		metric.WithDescription("Jobs waiting for a dispatch worker"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(d.Len()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("tasklane.dispatch.dropped_total",
		metric.WithDescription("Jobs dropped because the queue was full or draining"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(d.Dropped())
			return nil
		}),
	)
}
