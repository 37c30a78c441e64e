package gateway

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()
	q := newQueue[int]()

	for i := 1; i <= 3; i++ {
		if err := q.Push(i); err != nil {
			t.Fatalf("Push(%d) error = %v", i, err)
		}
	}

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		v, ok := q.Pop(ctx)
		if !ok {
			t.Fatalf("Pop() ok = false, want element %d", i)
		}
		if v != i {
			t.Errorf("Pop() = %d, want %d", v, i)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	t.Parallel()
	q := newQueue[string]()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Push("hello")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, ok := q.Pop(ctx)
	if !ok {
		t.Fatal("Pop() ok = false, want pushed element")
	}
	if v != "hello" {
		t.Errorf("Pop() = %q, want %q", v, "hello")
	}
}

func TestQueueCloseDrains(t *testing.T) {
	t.Parallel()
	q := newQueue[int]()

	_ = q.Push(1)
	_ = q.Push(2)
	q.Close()

	if err := q.Push(3); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Push() after Close error = %v, want ErrSessionClosed", err)
	}

	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		v, ok := q.Pop(ctx)
		if !ok || v != i {
			t.Fatalf("Pop() = %d, %v; want %d, true", v, ok, i)
		}
	}
	if _, ok := q.Pop(ctx); ok {
		t.Error("Pop() on closed drained queue ok = true, want false")
	}
}

func TestQueuePopContextCancel(t *testing.T) {
	t.Parallel()
	q := newQueue[int]()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok := q.Pop(ctx); ok {
			t.Error("Pop() ok = true after context cancel, want false")
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pop() did not return after context cancel")
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	t.Parallel()
	q := newQueue[int]()

	const producers = 8
	const perProducer = 50
	for p := 0; p < producers; p++ {
		go func() {
			for i := 0; i < perProducer; i++ {
				_ = q.Push(i)
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < producers*perProducer; i++ {
		if _, ok := q.Pop(ctx); !ok {
			t.Fatalf("Pop() ok = false after %d elements, want %d total", i, producers*perProducer)
		}
	}
}
