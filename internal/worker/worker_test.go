package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/worker"
)

func TestPoolRefusesBusyKey(t *testing.T) {
	pool := worker.NewPool(4, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	pool.Start(context.Background(), 2)

	if !pool.Submit(worker.Job{Key: "milestone-1", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}) {
		t.Fatalf("expected first submit to be accepted")
	}
	<-started
	if pool.Submit(worker.Job{Key: "milestone-1", Run: func(context.Context) error { return nil }}) {
		t.Fatalf("expected duplicate key to be refused while running")
	}
	close(release)
	pool.Shutdown()
}

func TestPoolRunsEveryAcceptedJob(t *testing.T) {
	pool := worker.NewPool(10, nil)
	pool.Start(context.Background(), 3)

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		if !pool.Submit(worker.Job{Key: key, Run: func(context.Context) error {
			ran.Add(1)
			if key == "c" {
				return errors.New("boom")
			}
			return nil
		}}) {
			t.Fatalf("submit %s refused", key)
		}
	}
	pool.Shutdown()
	if got := ran.Load(); got != 10 {
		t.Fatalf("unexpected runs: got=%d want=10", got)
	}
}

func TestSchedulerRunsImmediatelyAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu    sync.Mutex
		calls int
	)
	scheduler := worker.NewScheduler("sweep", 10*time.Millisecond, nil, func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 3 {
			cancel()
		}
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Fatalf("unexpected calls: got=%d want=3", calls)
	}
}
