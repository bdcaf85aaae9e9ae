package tracker

import (
	"context"
	"errors"
)

// ErrStopped is returned when work is submitted after the loop exited.
var ErrStopped = errors.New("tracker stopped")

// Loop runs every tracker handler and continuation on a single goroutine.
// Remote calls run elsewhere and hand their results back through Async, so
// loop-owned state needs no locking.
type Loop struct {
	work    chan func()
	stopped chan struct{}

	// Owned by the loop goroutine.
	ctx     context.Context
	pending int
	idle    []chan struct{}
}

func NewLoop(queue int) *Loop {
	if queue <= 0 {
		queue = 64
	}
	return &Loop{
		work:    make(chan func(), queue),
		stopped: make(chan struct{}),
	}
}

// Run processes work until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.stopped)
	l.ctx = ctx
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.work:
			fn()
		}
	}
}

// Post queues fn without waiting for it to run.
func (l *Loop) Post(ctx context.Context, fn func()) error {
	select {
	case <-l.stopped:
		return ErrStopped
	default:
	}
	select {
	case l.work <- fn:
		return nil
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call runs fn on the loop and waits for it to return.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := l.Post(ctx, func() {
		fn()
		close(done)
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sync waits until every continuation started with Async has run.
func (l *Loop) Sync(ctx context.Context) error {
	idle := make(chan struct{})
	if err := l.Call(ctx, func() {
		if l.pending == 0 {
			close(idle)
			return
		}
		l.idle = append(l.idle, idle)
	}); err != nil {
		return err
	}
	select {
	case <-idle:
		return nil
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) settle() {
	l.pending--
	if l.pending > 0 {
		return
	}
	for _, ch := range l.idle {
		close(ch)
	}
	l.idle = nil
}

// Async runs call on its own goroutine and then runs on the loop goroutine.
// It must be invoked from the loop goroutine. Continuations run in completion
// order, not issue order.
func Async[T any](l *Loop, call func(context.Context) (T, error), then func(T, error)) {
	l.pending++
	ctx := l.ctx
	go func() {
		v, err := call(ctx)
		select {
		case l.work <- func() {
			then(v, err)
			l.settle()
		}:
		case <-l.stopped:
		}
	}()
}
