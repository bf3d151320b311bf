package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueue_Enqueue_And_Close(t *testing.T) {
	q := New(8)
	q.Start()
	defer q.Close()

	var count int64
	for i := 0; i < 10; i++ {
		if err := q.Enqueue(Func(func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		})); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	time.Sleep(50 * time.Millisecond)

	if c := atomic.LoadInt64(&count); c < 10 {
		t.Fatalf("want >=10 ops applied, got %d", c)
	}
}

func TestQueue_OpsRunInOrder(t *testing.T) {
	q := New(8)
	q.Start()
	defer q.Close()

	var seen []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		_ = q.Enqueue(Func(func(ctx context.Context) error {
			seen = append(seen, i)
			if i == 4 {
				close(done)
			}
			return nil
		}))
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ops did not complete")
	}

	for i, v := range seen {
		if v != i {
			t.Fatalf("ops ran out of order: %v", seen)
		}
	}
}

func TestQueue_RunSyncReturnsOpError(t *testing.T) {
	q := New(8)
	q.Start()
	defer q.Close()

	want := errors.New("boom")
	if err := q.RunSync(func(ctx context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("want op error, got %v", err)
	}

	if err := q.RunSync(func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("want nil, got %v", err)
	}
}

func TestQueue_EnqueueAfterClose(t *testing.T) {
	q := New(1)
	q.Start()
	q.Close()

	err := q.Enqueue(Func(func(ctx context.Context) error { return nil }))
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}
