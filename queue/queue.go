// Package queue serializes all switcher state mutations onto a single
// goroutine. The resolver and store are single-writer by design; every
// mutation, timer fire and enumeration result is applied as an Op on the
// queue's worker, so no two of them ever run concurrently.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Op is a state mutation. It should be quick and non-blocking; heavy work
// (device enumeration in particular) is prepared off the worker and only its
// result applied here. It receives a context that is canceled on shutdown.
type Op interface {
	Apply(ctx context.Context) error
}

// Func adapts a function into an Op.
type Func func(ctx context.Context) error

func (f Func) Apply(ctx context.Context) error { return f(ctx) }

// ErrClosed is returned when an operation is submitted after shutdown.
var ErrClosed = errors.New("queue closed")

// Queue runs operations one at a time on a single worker goroutine with
// graceful shutdown. Use Enqueue for fire-and-forget ops and RunSync when the
// caller needs the op's result.
type Queue struct {
	ch      chan Op
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a queue with a fixed buffer.
func New(buffer int) *Queue {
	if buffer <= 0 {
		buffer = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{ch: make(chan Op, buffer), ctx: ctx, cancel: cancel}
}

// Start begins the worker goroutine. Safe to call multiple times.
func (q *Queue) Start() {
	if q.started {
		return
	}
	q.started = true
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-q.ctx.Done():
				// drain outstanding ops best-effort with short deadline
				drainUntil := time.After(10 * time.Millisecond)
				for {
					select {
					case op := <-q.ch:
						_ = op.Apply(q.ctx)
					case <-drainUntil:
						return
					default:
						return
					}
				}
			case op := <-q.ch:
				if op == nil {
					continue
				}
				_ = op.Apply(q.ctx)
			}
		}
	}()
}

// Enqueue adds an operation to the queue.
func (q *Queue) Enqueue(op Op) error {
	if q == nil || q.ch == nil {
		return errors.New("queue not initialized")
	}
	select {
	case <-q.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case q.ch <- op:
		return nil
	case <-q.ctx.Done():
		return ErrClosed
	}
}

// RunSync enqueues an operation and waits for it to complete, returning its
// error. Used by the switcher's synchronous surface (hide, reorder) which must
// report persistence failures to the caller while still serializing with
// other mutations.
func (q *Queue) RunSync(fn Func) error {
	done := make(chan error, 1)
	if err := q.Enqueue(Func(func(ctx context.Context) error {
		err := fn(ctx)
		// Non-blocking send in case caller gave up
		select {
		case done <- err:
		default:
		}
		return err
	})); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-q.ctx.Done():
		return ErrClosed
	}
}

// Close stops the worker and waits for it to finish.
func (q *Queue) Close() {
	if q == nil {
		return
	}
	q.cancel()
	q.wg.Wait()
}
