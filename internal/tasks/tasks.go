// Package tasks runs background work for the story engine. Request
// handlers hand off anything slow (outbound calls, SMS sends, conference
// orchestration) so the webhook response is never blocked on the voice
// platform's REST API.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Task is a unit of background work.
type Task interface {
	// Name identifies the task in logs.
	Name() string
	Execute(ctx context.Context) error
}

// Delayed is implemented by tasks that should run after a pause. The
// runner sleeps the delay on the task's own goroutine, so a delayed task
// never holds up the queue.
type Delayed interface {
	Delay() time.Duration
}

// Critical is implemented by tasks whose failure should take the process
// down (bring-up work the server cannot run without).
type Critical interface {
	Critical() bool
}

// Reporter receives out-of-band notice of task failures. Optional.
type Reporter interface {
	Report(ctx context.Context, msg string)
}

// queueDepth bounds how much work can pile up before Submit blocks.
const queueDepth = 50

// Runner executes submitted tasks, each on its own goroutine. Panics are
// recovered and logged; errors from non-critical tasks are logged and
// reported; errors from critical tasks invoke OnCriticalFailure.
type Runner struct {
	queue    chan Task
	logger   *slog.Logger
	reporter Reporter
	wg       sync.WaitGroup

	// OnCriticalFailure is called when a task marked critical fails.
	// The default logs and exits the process.
	OnCriticalFailure func(name string, err error)
}

// NewRunner creates a Runner. The reporter may be nil.
func NewRunner(logger *slog.Logger, reporter Reporter) *Runner {
	r := &Runner{
		queue:    make(chan Task, queueDepth),
		logger:   logger.With("subsystem", "tasks"),
		reporter: reporter,
	}
	r.OnCriticalFailure = func(name string, err error) {
		r.logger.Error("critical task failed, shutting down", "task", name, "error", err)
		os.Exit(1)
	}
	return r
}

// Submit enqueues a task. It blocks when the queue is full, which
// backpressures webhook handlers rather than dropping work.
func (r *Runner) Submit(ctx context.Context, task Task) error {
	select {
	case r.queue <- task:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submitting task %s: %w", task.Name(), ctx.Err())
	}
}

// Run dispatches tasks until ctx is cancelled. It blocks; call it on its
// own goroutine.
func (r *Runner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-r.queue:
			r.wg.Add(1)
			go r.execute(ctx, task)
		}
	}
}

// Wait blocks until every in-flight task has finished. Used during
// shutdown after ctx cancellation stops dispatch.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) execute(ctx context.Context, task Task) {
	defer r.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("task panicked", "task", task.Name(), "panic", rec)
		}
	}()

	if d, ok := task.(Delayed); ok {
		if delay := d.Delay(); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}

	r.logger.Debug("running task", "task", task.Name())
	err := task.Execute(ctx)
	if err == nil {
		return
	}

	if c, ok := task.(Critical); ok && c.Critical() {
		r.OnCriticalFailure(task.Name(), err)
		return
	}

	r.logger.Error("task failed", "task", task.Name(), "error", err)
	if r.reporter != nil {
		r.reporter.Report(ctx, fmt.Sprintf("task %s failed: %v", task.Name(), err))
	}
}

// Func adapts a plain function into a Task.
type Func struct {
	TaskName string
	Fn       func(ctx context.Context) error
}

func (f Func) Name() string { return f.TaskName }

func (f Func) Execute(ctx context.Context) error { return f.Fn(ctx) }
