// Package worker runs crawl and indexing tasks on a shared bounded pool and
// keeps a registry of every task that has not finished yet.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"sitesearch/packages/domain"

	"golang.org/x/sync/semaphore"
)

type Task struct {
	ID   uint64
	Name string

	done chan struct{}
	err  error
}

// Wait blocks until the task has returned.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

func (t *Task) Done() <-chan struct{} { return t.done }

type Pool struct {
	size   int64
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	nextID uint64
	tasks  map[uint64]*Task
	idle   chan struct{}
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Pool{
		size:   int64(size),
		sem:    semaphore.NewWeighted(int64(size)),
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[uint64]*Task),
		idle:   idle,
	}
}

// Go starts a top-level task that does not take a worker slot. fn receives
// the pool context.
func (p *Pool) Go(name string, fn func(ctx context.Context) error) *Task {
	t := p.register(name)
	go func() {
		defer p.finish(t)
		t.err = run(p.ctx, fn)
	}()
	return t
}

// Submit starts a leaf task that holds one worker slot while it runs. The
// task is canceled when either ctx or the pool is canceled; a canceled task
// reports domain.ErrInterrupted.
func (p *Pool) Submit(ctx context.Context, name string, fn func(ctx context.Context) error) *Task {
	t := p.register(name)
	go func() {
		defer p.finish(t)

		taskCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(p.ctx, cancel)
		defer stop()

		if err := p.ctx.Err(); err != nil {
			t.err = interrupted(err)
			return
		}
		if err := p.sem.Acquire(taskCtx, 1); err != nil {
			t.err = interrupted(err)
			return
		}
		defer p.sem.Release(1)

		t.err = run(taskCtx, fn)
	}()
	return t
}

func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Task panicked", "panic", r)
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	err = fn(ctx)
	if err != nil && ctx.Err() != nil {
		err = interrupted(err)
	}
	return err
}

func interrupted(err error) error {
	if errors.Is(err, domain.ErrInterrupted) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrInterrupted, err)
}

func (p *Pool) register(name string) *Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	t := &Task{ID: p.nextID, Name: name, done: make(chan struct{})}
	if len(p.tasks) == 0 {
		p.idle = make(chan struct{})
	}
	p.tasks[t.ID] = t
	return t
}

func (p *Pool) finish(t *Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tasks, t.ID)
	close(t.done)
	if len(p.tasks) == 0 {
		close(p.idle)
	}
}

// Len is the number of registered tasks that have not finished.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

func (p *Pool) Active() bool { return p.Len() > 0 }

func (p *Pool) Size() int { return int(p.size) }

// Cancel interrupts every running and queued task of the pool.
func (p *Pool) Cancel() { p.cancel() }

func (p *Pool) Canceled() bool { return p.ctx.Err() != nil }

// Wait blocks until the registry is empty or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	for {
		p.mu.Lock()
		if len(p.tasks) == 0 {
			p.mu.Unlock()
			return nil
		}
		idle := p.idle
		p.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
