package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"sitesearch/packages/domain"
)

func TestSubmitBoundsConcurrency(t *testing.T) {
	p := NewPool(3)
	var running, peak atomic.Int32

	var tasks []*Task
	for i := 0; i < 20; i++ {
		tasks = append(tasks, p.Submit(context.Background(), "leaf", func(ctx context.Context) error {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		}))
	}
	for _, task := range tasks {
		if err := task.Wait(); err != nil {
			t.Fatalf("task failed: %v", err)
		}
	}
	if peak.Load() > 3 {
		t.Fatalf("peak concurrency %d exceeds pool size 3", peak.Load())
	}
	if p.Len() != 0 {
		t.Fatalf("registry not empty: %d", p.Len())
	}
}

func TestTaskErrorPropagates(t *testing.T) {
	p := NewPool(1)
	boom := errors.New("boom")
	if err := p.Submit(context.Background(), "fail", func(ctx context.Context) error { return boom }).Wait(); !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
	if err := p.Go("panic", func(ctx context.Context) error { panic("bad") }).Wait(); err == nil {
		t.Fatal("expected panic to be converted to an error")
	}
}

func TestCancelInterruptsTree(t *testing.T) {
	p := NewPool(2)
	started := make(chan struct{}, 1)

	root := p.Go("run", func(ctx context.Context) error {
		var children []*Task
		for i := 0; i < 5; i++ {
			children = append(children, p.Submit(ctx, "child", func(ctx context.Context) error {
				select {
				case started <- struct{}{}:
				default:
				}
				<-ctx.Done()
				return ctx.Err()
			}))
		}
		var firstErr error
		for _, c := range children {
			if err := c.Wait(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})

	<-started
	if !p.Active() {
		t.Fatal("pool should be active while tasks run")
	}
	p.Cancel()

	if err := root.Wait(); !errors.Is(err, domain.ErrInterrupted) {
		t.Fatalf("root error = %v, want ErrInterrupted", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("registry did not drain: %v", err)
	}
	if p.Len() != 0 {
		t.Fatalf("registry not empty after cancel: %d", p.Len())
	}

	if err := p.Submit(context.Background(), "late", func(ctx context.Context) error { return nil }).Wait(); !errors.Is(err, domain.ErrInterrupted) {
		t.Fatalf("submit on canceled pool = %v, want ErrInterrupted", err)
	}
}

func TestWaitOnIdlePool(t *testing.T) {
	p := NewPool(1)
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait on idle pool: %v", err)
	}
}
