package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// CancelFlag is the cooperative cancellation signal heavy tasks must poll.
// Workers are never forcibly killed; a task that ignores its flag simply
// runs to completion.
type CancelFlag struct {
	canceled atomic.Bool
}

// Cancel requests that the task stop at its next checkpoint.
func (f *CancelFlag) Cancel() { f.canceled.Store(true) }

// Canceled reports whether cancellation was requested.
func (f *CancelFlag) Canceled() bool { return f.canceled.Load() }

// HeavyTask is one long-running unit of batch work.
type HeavyTask func(ctx context.Context, flag *CancelFlag) error

// Handle tracks one submitted heavy task.
type Handle struct {
	ID   string
	flag *CancelFlag
	done chan struct{}
	err  error
}

// Cancel requests cooperative cancellation.
func (h *Handle) Cancel() { h.flag.Cancel() }

// Wait blocks until the task finishes or ctx expires, returning the task's
// error.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HeavyPool is the small pool reserved for long batch operations.
type HeavyPool struct {
	sem chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewHeavyPool creates a heavy pool. Zero workers means 2.
func NewHeavyPool(workers int) *HeavyPool {
	if workers <= 0 {
		workers = 2
	}
	return &HeavyPool{sem: make(chan struct{}, workers)}
}

// Submit schedules a heavy task, blocking while the pool is saturated.
func (p *HeavyPool) Submit(ctx context.Context, task HeavyTask) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.wg.Done()
		return nil, ctx.Err()
	}

	h := &Handle{
		ID:   uuid.New().String(),
		flag: &CancelFlag{},
		done: make(chan struct{}),
	}
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
			close(h.done)
		}()
		h.err = task(ctx, h.flag)
	}()
	return h, nil
}

// Close stops accepting tasks and waits for running ones to finish (or to
// honor their cancel flags).
func (p *HeavyPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
