// Package dispatch runs post-commit side effects (notifications, invoices)
// with at-least-once delivery. Each job gets one inline attempt; a failed job
// is queued and retried by background workers with exponential backoff until
// it succeeds or the dispatcher is shut down.
package dispatch

import (
	"auction-engine/internal/biddingerrors"
	"auction-engine/utils"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config sizes the retry machinery
type Config struct {
	Workers         int
	QueueSize       int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 200 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	return c
}

type task struct {
	name string
	job  func(ctx context.Context) error
}

// Dispatcher owns the retry queue and its workers
type Dispatcher struct {
	cfg   Config
	queue chan task

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pending atomic.Int64
	dropped atomic.Int64
}

// New starts cfg.Workers retry workers
func New(cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:    cfg,
		queue:  make(chan task, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch attempts job once inline and hands it to the retry queue on failure.
// It never blocks on the queue: a job that finds the queue full is dropped and
// counted, so callers and Close cannot stall behind a saturated sink.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, job func(ctx context.Context) error) {
	err := job(ctx)
	if err == nil {
		return
	}
	utils.Warn("side effect failed, scheduling retry", map[string]any{
		"job":   name,
		"error": err.Error(),
		"kind":  biddingerrors.ErrSinkUnavailable.Error(),
	})

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		utils.Error("dispatcher closed, dropping side effect", map[string]any{"job": name})
		return
	}
	d.pending.Add(1)
	select {
	case d.queue <- task{name: name, job: job}:
	default:
		d.pending.Add(-1)
		d.dropped.Add(1)
		utils.Error("retry queue full, dropping side effect", map[string]any{"job": name, "queue_size": d.cfg.QueueSize})
	}
}

// Pending is the number of jobs queued or being retried
func (d *Dispatcher) Pending() int64 {
	return d.pending.Load()
}

// Dropped is the number of failed jobs discarded because the queue was full
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for t := range d.queue {
		d.retry(t)
		d.pending.Add(-1)
	}
}

func (d *Dispatcher) retry(t task) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.cfg.InitialInterval
	policy.MaxInterval = d.cfg.MaxInterval
	policy.MaxElapsedTime = 0

	attempts := 1
	err := backoff.RetryNotify(
		func() error {
			attempts++
			return t.job(d.ctx)
		},
		backoff.WithContext(policy, d.ctx),
		func(err error, wait time.Duration) {
			utils.Warn("side effect retry failed", map[string]any{
				"job":     t.name,
				"attempt": attempts,
				"wait":    wait.String(),
				"error":   err.Error(),
			})
		},
	)
	if err != nil {
		utils.Error("side effect abandoned", map[string]any{"job": t.name, "attempts": attempts, "error": err.Error()})
		return
	}
	utils.Debug("side effect delivered after retry", map[string]any{"job": t.name, "attempts": attempts})
}

// Close stops accepting jobs and waits for queued ones to finish. When ctx
// expires first, in-flight retries are cancelled and their jobs dropped.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
