package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/will7455/shieldy/internal/infra"
	"github.com/will7455/shieldy/internal/observability"
)

// taskRunner owns the background work spawned by the gatekeeper: fire and
// forget purges plus delayed deletions. Every task is tracked until Close.
type taskRunner struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *log.Entry

	mu     sync.Mutex
	closed bool
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

func newTaskRunner(logger *log.Entry) *taskRunner {
	ctx, cancel := context.WithCancel(context.Background())
	return &taskRunner{
		ctx:    ctx,
		cancel: cancel,
		logger: logger.WithField("object", "tasks"),
		timers: make(map[string]*time.Timer),
	}
}

// Go runs fn in the background, its error or panic goes to the report sink.
func (t *taskRunner) Go(name string, fn func(ctx context.Context) error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	go t.run(name, fn)
	return true
}

// After schedules fn and returns the id to cancel it with.
func (t *taskRunner) After(delay time.Duration, name string, fn func(ctx context.Context) error) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ""
	}

	id := uuid.New()
	t.timers[id] = time.AfterFunc(delay, func() {
		t.mu.Lock()
		if _, ok := t.timers[id]; !ok || t.closed {
			t.mu.Unlock()
			return
		}
		delete(t.timers, id)
		t.wg.Add(1)
		t.mu.Unlock()
		t.run(name, fn)
	})
	return id
}

func (t *taskRunner) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	timer, ok := t.timers[id]
	if !ok {
		return false
	}
	delete(t.timers, id)
	return timer.Stop()
}

func (t *taskRunner) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

func (t *taskRunner) run(name string, fn func(ctx context.Context) error) {
	defer t.wg.Done()
	err := infra.Recover(name, func() error { return fn(t.ctx) })
	observability.Report(t.logger.WithField("task", name), name, err)
}

// Close drops the scheduled tasks and waits for running ones.
func (t *taskRunner) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.mu.Unlock()
	defer t.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (t *taskRunner) wait() {
	t.wg.Wait()
}
