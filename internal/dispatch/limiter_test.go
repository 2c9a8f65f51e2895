package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestTasksRunInSubmissionOrder(t *testing.T) {
	l := NewLimiter(0) // unlimited
	defer l.Close()

	var mu sync.Mutex
	var order []int
	var futs []*Future
	for i := 0; i < 20; i++ {
		i := i
		futs = append(futs, l.Execute(func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	for _, f := range futs {
		if err := f.Wait(); err != nil {
			t.Fatalf("task error: %v", err)
		}
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("order[%d] = %d, want %d", i, got, i)
		}
	}
}

func TestFutureCarriesTaskError(t *testing.T) {
	l := NewLimiter(0)
	defer l.Close()

	boom := errors.New("boom")
	if err := l.Execute(func(ctx context.Context) error { return boom }).Wait(); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	// A failure never stops the worker.
	if err := l.Execute(func(ctx context.Context) error { return nil }).Wait(); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
}

func TestRateSpacing(t *testing.T) {
	l := NewLimiter(20) // 50ms apart
	defer l.Close()

	var stamps []time.Time
	var mu sync.Mutex
	var futs []*Future
	for i := 0; i < 3; i++ {
		futs = append(futs, l.Execute(func(ctx context.Context) error {
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
			return nil
		}))
	}
	for _, f := range futs {
		f.Wait()
	}
	if len(stamps) != 3 {
		t.Fatalf("ran %d tasks, want 3", len(stamps))
	}
	// Two paced gaps; allow generous scheduling slack below the limit.
	if gap := stamps[2].Sub(stamps[0]); gap < 80*time.Millisecond {
		t.Fatalf("tasks too close together: %v", gap)
	}
}

func TestWaitForCompletionDrains(t *testing.T) {
	l := NewLimiter(0)
	defer l.Close()

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 10; i++ {
		l.Execute(func(ctx context.Context) error {
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		})
	}
	l.WaitForCompletion()
	mu.Lock()
	defer mu.Unlock()
	if ran != 10 {
		t.Fatalf("ran = %d, want 10", ran)
	}
}

func TestConcurrentWaitersAllWake(t *testing.T) {
	l := NewLimiter(0)
	defer l.Close()

	block := make(chan struct{})
	l.Execute(func(ctx context.Context) error {
		<-block
		return nil
	})
	for i := 0; i < 4; i++ {
		l.Execute(func(ctx context.Context) error { return nil })
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.WaitForCompletion()
		}()
	}
	close(block)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not every waiter woke up")
	}
}

func TestCloseRunsQueuedThenRejects(t *testing.T) {
	l := NewLimiter(0)

	var mu sync.Mutex
	ran := 0
	fut := l.Execute(func(ctx context.Context) error {
		mu.Lock()
		ran++
		mu.Unlock()
		return nil
	})
	l.Close()

	if err := fut.Wait(); err != nil {
		t.Fatalf("queued task error: %v", err)
	}
	mu.Lock()
	if ran != 1 {
		t.Fatalf("ran = %d, want 1", ran)
	}
	mu.Unlock()

	late := l.Execute(func(ctx context.Context) error { return nil })
	if err := late.Wait(); !errors.Is(err, ErrClosed) {
		t.Fatalf("late task err = %v, want ErrClosed", err)
	}
}

func TestUnlimitedWhenZeroRate(t *testing.T) {
	l := NewLimiter(0)
	defer l.Close()
	if l.limiter.Limit() != rate.Inf {
		t.Fatalf("limit = %v, want Inf", l.limiter.Limit())
	}
}
