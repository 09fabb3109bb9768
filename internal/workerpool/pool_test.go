package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// concurrencyTracker records the highest number of simultaneously running
// tasks it has seen.
type concurrencyTracker struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (ct *concurrencyTracker) enter() {
	ct.mu.Lock()
	ct.current++
	if ct.current > ct.peak {
		ct.peak = ct.current
	}
	ct.mu.Unlock()
}

func (ct *concurrencyTracker) exit() {
	ct.mu.Lock()
	ct.current--
	ct.mu.Unlock()
}

func (ct *concurrencyTracker) max() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.peak
}

func TestRunAllRespectsLimit(t *testing.T) {
	const n, limit = 20, 3

	var tracker concurrencyTracker
	var ran int32

	err := RunAll(context.Background(), n, limit, func(ctx context.Context, i int) error {
		tracker.enter()
		defer tracker.exit()
		atomic.AddInt32(&ran, 1)
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}

	if got := atomic.LoadInt32(&ran); got != n {
		t.Errorf("ran %d tasks, want %d", got, n)
	}
	if peak := tracker.max(); peak > limit {
		t.Errorf("observed %d concurrent tasks, limit %d", peak, limit)
	}
}

func TestRunAllSequentialWhenLimitOne(t *testing.T) {
	var tracker concurrencyTracker

	err := RunAll(context.Background(), 8, 1, func(ctx context.Context, i int) error {
		tracker.enter()
		defer tracker.exit()
		time.Sleep(2 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	if peak := tracker.max(); peak != 1 {
		t.Errorf("observed %d concurrent tasks, want exactly 1", peak)
	}
}

func TestRunAllTreatsZeroLimitAsOne(t *testing.T) {
	var tracker concurrencyTracker

	err := RunAll(context.Background(), 4, 0, func(ctx context.Context, i int) error {
		tracker.enter()
		defer tracker.exit()
		time.Sleep(2 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	if peak := tracker.max(); peak != 1 {
		t.Errorf("observed %d concurrent tasks, want exactly 1", peak)
	}
}

func TestRunAllPropagatesFirstError(t *testing.T) {
	boom := errors.New("scene exploded")

	err := RunAll(context.Background(), 10, 2, func(ctx context.Context, i int) error {
		if i == 3 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("RunAll() error = %v, want %v", err, boom)
	}
}

func TestRunAllStopsIssuingAfterFailure(t *testing.T) {
	var started int32

	// Limit 1 serializes the tasks; the first one fails, so the rest
	// should be cut off by the group context before they start.
	err := RunAll(context.Background(), 50, 1, func(ctx context.Context, i int) error {
		atomic.AddInt32(&started, 1)
		if i == 0 {
			return errors.New("first task failed")
		}
		return nil
	})
	if err == nil {
		t.Fatal("RunAll() error = nil, want failure")
	}
	if got := atomic.LoadInt32(&started); got == 50 {
		t.Errorf("all %d tasks started despite early failure", got)
	}
}

func TestRunAllCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	release := make(chan struct{})
	var started int32

	done := make(chan error, 1)
	go func() {
		done <- RunAll(ctx, 10, 1, func(ctx context.Context, i int) error {
			atomic.AddInt32(&started, 1)
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	// Wait for the first task to occupy the single slot, then cancel.
	for atomic.LoadInt32(&started) == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	close(release)

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Errorf("RunAll() error = %v, want context.Canceled", err)
	}
	if got := atomic.LoadInt32(&started); got == 10 {
		t.Error("all tasks started despite cancellation")
	}
}

func TestRunAllZeroTasks(t *testing.T) {
	err := RunAll(context.Background(), 0, 3, func(ctx context.Context, i int) error {
		t.Error("task ran for n=0")
		return nil
	})
	if err != nil {
		t.Errorf("RunAll() error = %v, want nil", err)
	}
}
