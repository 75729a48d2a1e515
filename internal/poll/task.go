// Package poll runs cancellable periodic tasks whose lifetime is tied to an owner
// such as a user session.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Func is one run of a task. A returned error is logged and the task keeps going.
type Func func(ctx context.Context) error

// Recorder receives the outcome of every run.
type Recorder interface {
	ObservePoll(task string, err error)
}

// Options tune a Task.
type Options struct {
	// Immediate runs the task once as soon as it starts instead of after the
	// first interval.
	Immediate bool
	// Timeout bounds a single run. Zero means the interval.
	Timeout  time.Duration
	Logger   *slog.Logger
	Recorder Recorder
}

// Task calls a Func on a fixed interval between Start and Stop.
type Task struct {
	name     string
	interval time.Duration
	fn       Func
	opts     Options

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// DefaultInterval replaces a non-positive interval.
const DefaultInterval = time.Minute

// New constructs a stopped Task. A non-positive interval means DefaultInterval.
func New(name string, interval time.Duration, fn Func, opts Options) *Task {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = interval
	}
	return &Task{name: name, interval: interval, fn: fn, opts: opts}
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.name
}

// Start launches the loop. It is a no-op while the task is already running. The
// loop ends when ctx is cancelled or Stop is called.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	go t.loop(ctx, done)
}

// Stop cancels the loop and waits for an in-flight run to return. Safe to call
// on a stopped task and from several goroutines.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

func (t *Task) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	if t.opts.Immediate {
		t.run(ctx)
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.run(ctx)
		}
	}
}

func (t *Task) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()
	err := t.fn(runCtx)
	if t.opts.Recorder != nil {
		t.opts.Recorder.ObservePoll(t.name, err)
	}
	if err != nil && ctx.Err() == nil {
		t.opts.Logger.Warn("poll task failed", slog.String("task", t.name), slog.Any("error", err))
	}
}
