package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeSweeper struct {
	mu     sync.Mutex
	calls  int
	grace  time.Duration
	limit  int
	result []string
	err    error
}

func (f *fakeSweeper) ReconcileStrandedSlots(_ context.Context, grace time.Duration, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.grace, f.limit = grace, limit
	return f.result, f.err
}

func (f *fakeSweeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLocker struct {
	mu       sync.Mutex
	attempts int
	grantOn  int
	unlocked bool
}

func (l *fakeLocker) TryLock(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.attempts < l.grantOn {
		return false, nil
	}
	return true, nil
}

func (l *fakeLocker) Unlock(context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlocked = true
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOncePassesConfig(t *testing.T) {
	sweeper := &fakeSweeper{result: []string{"S1", "S2"}}
	w := NewWorker(sweeper, nil, discardLogger(), Config{Grace: 15 * time.Minute, BatchSize: 7})

	released := w.RunOnce(context.Background())
	if len(released) != 2 {
		t.Fatalf("expected 2 released slots, got %v", released)
	}
	if sweeper.grace != 15*time.Minute || sweeper.limit != 7 {
		t.Fatalf("config not passed: grace=%s limit=%d", sweeper.grace, sweeper.limit)
	}

	sweeper.err = errors.New("db down")
	sweeper.result = nil
	if released := w.RunOnce(context.Background()); len(released) != 0 {
		t.Fatalf("expected nothing released on error, got %v", released)
	}
}

func TestRunSweepsUntilCanceled(t *testing.T) {
	sweeper := &fakeSweeper{}
	locker := &fakeLocker{grantOn: 2}
	w := NewWorker(sweeper, locker, discardLogger(), Config{
		Interval:  5 * time.Millisecond,
		LockRetry: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for sweeper.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 sweeps, got %d", sweeper.count())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done

	locker.mu.Lock()
	defer locker.mu.Unlock()
	if locker.attempts != 2 || !locker.unlocked {
		t.Fatalf("expected lock granted on second attempt and released, got attempts=%d unlocked=%v", locker.attempts, locker.unlocked)
	}
}

func TestRunStopsWhileWaitingForLock(t *testing.T) {
	sweeper := &fakeSweeper{}
	locker := &fakeLocker{grantOn: 1 << 30}
	w := NewWorker(sweeper, locker, discardLogger(), Config{LockRetry: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	w.Run(ctx)
	if sweeper.count() != 0 {
		t.Fatalf("swept without holding the lock")
	}
}
