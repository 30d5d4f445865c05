// Package forward ships recorded admin actions to an external sink such as
// a Kafka topic. Forwarding is best effort and never blocks the request
// that recorded the action.
package forward

import (
	"context"
	"log/slog"
	"time"

	audit "mkcompany/pkg/platform/audit"
)

// Sink delivers a batch of actions. A returned error means none of the batch
// should be considered delivered.
type Sink interface {
	Send(ctx context.Context, actions []audit.AdminAction) error
}

const (
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
	shutdownFlushTimeout = 5 * time.Second
)

type Worker struct {
	sink     Sink
	buffer   *Buffer
	breaker  *Breaker
	logger   *slog.Logger
	metrics  *Metrics
	batch    int
	interval time.Duration
	wake     chan struct{}

	// pending is the batch that failed last time; it is retried before
	// anything new is taken from the buffer.
	pending []audit.AdminAction
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batch = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithBuffer(b *Buffer) Option {
	return func(w *Worker) { w.buffer = b }
}

func WithBreaker(b *Breaker) Option {
	return func(w *Worker) { w.breaker = b }
}

func NewWorker(sink Sink, opts ...Option) *Worker {
	w := &Worker{
		sink:     sink,
		logger:   slog.Default(),
		batch:    defaultBatchSize,
		interval: defaultFlushInterval,
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.buffer == nil {
		w.buffer = NewBuffer(defaultCapacity)
	}
	if w.breaker == nil {
		w.breaker = NewBreaker(5, 30*time.Second)
	}
	return w
}

// Enqueue queues action for delivery without blocking.
func (w *Worker) Enqueue(action audit.AdminAction) {
	if w.buffer.Push(action) && w.metrics != nil {
		w.metrics.Dropped.Inc()
	}
	if w.buffer.Len() >= w.batch {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

// Run delivers queued actions until ctx is cancelled, then makes one last
// attempt to drain the buffer.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownFlushTimeout)
			w.Flush(flushCtx)
			cancel()
			return nil
		case <-ticker.C:
			w.Flush(ctx)
		case <-w.wake:
			w.Flush(ctx)
		}
	}
}

// Flush sends batches until the buffer is empty, a delivery fails or the
// breaker is open. Not safe for concurrent use with itself.
func (w *Worker) Flush(ctx context.Context) {
	defer w.observe()
	for {
		if len(w.pending) == 0 {
			w.pending = w.buffer.PopBatch(w.batch)
		}
		if len(w.pending) == 0 {
			return
		}
		if !w.breaker.Allow() {
			return
		}
		if err := w.sink.Send(ctx, w.pending); err != nil {
			w.breaker.RecordFailure()
			if w.metrics != nil {
				w.metrics.SendErrors.Inc()
			}
			w.logger.WarnContext(ctx, "admin action forward failed",
				"batch_size", len(w.pending),
				"breaker_open", w.breaker.IsOpen(),
				"error", err,
			)
			return
		}
		w.breaker.RecordSuccess()
		if w.metrics != nil {
			w.metrics.Forwarded.Add(float64(len(w.pending)))
		}
		w.pending = nil
		if ctx.Err() != nil {
			return
		}
	}
}

// Pending returns how many actions are waiting, including a failed batch.
func (w *Worker) Pending() int {
	return w.buffer.Len() + len(w.pending)
}

func (w *Worker) observe() {
	if w.metrics == nil {
		return
	}
	w.metrics.QueueLength.Set(float64(w.Pending()))
	if w.breaker.IsOpen() {
		w.metrics.BreakerOpen.Set(1)
	} else {
		w.metrics.BreakerOpen.Set(0)
	}
}
