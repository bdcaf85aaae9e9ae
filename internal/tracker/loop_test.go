package tracker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func runLoop(t *testing.T) *Loop {
	t.Helper()
	l := NewLoop(0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

func TestLoopRunsContinuationsOnLoop(t *testing.T) {
	l := runLoop(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []int
	if err := l.Call(ctx, func() {
		for i := 0; i < 3; i++ {
			Async(l, func(context.Context) (int, error) { return i, nil }, func(v int, _ error) {
				got = append(got, v)
			})
		}
	}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if err := l.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("continuations ran %d times, want 3", len(got))
	}
}

func TestLoopSyncWaitsForNestedAsync(t *testing.T) {
	l := runLoop(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	depth := 0
	var step func()
	step = func() {
		Async(l, func(context.Context) (struct{}, error) { return struct{}{}, nil }, func(struct{}, error) {
			depth++
			if depth < 5 {
				step()
			}
		})
	}
	if err := l.Call(ctx, step); err != nil {
		t.Fatal(err)
	}
	if err := l.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if depth != 5 {
		t.Fatalf("depth = %d, want 5", depth)
	}
}

func TestLoopSyncWhenIdle(t *testing.T) {
	l := runLoop(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
}

func TestLoopCallAfterStop(t *testing.T) {
	l := NewLoop(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()
	cancel()
	<-done

	if err := l.Call(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Call() error = %v, want ErrStopped", err)
	}
}
