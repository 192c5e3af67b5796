package tasks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingTask struct {
	name     string
	delay    time.Duration
	critical bool
	err      error
	done     chan struct{}
}

func (t *recordingTask) Name() string         { return t.name }
func (t *recordingTask) Delay() time.Duration { return t.delay }
func (t *recordingTask) Critical() bool       { return t.critical }

func (t *recordingTask) Execute(ctx context.Context) error {
	close(t.done)
	return t.err
}

func TestRunnerExecutesSubmittedTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner(testLogger(), nil)
	go r.Run(ctx)

	task := &recordingTask{name: "t", done: make(chan struct{})}
	if err := r.Submit(ctx, task); err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	select {
	case <-task.done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
}

func TestRunnerHonorsDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner(testLogger(), nil)
	go r.Run(ctx)

	task := &recordingTask{name: "delayed", delay: 50 * time.Millisecond, done: make(chan struct{})}
	start := time.Now()
	if err := r.Submit(ctx, task); err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	select {
	case <-task.done:
		if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
			t.Errorf("task ran after %v, want at least 50ms", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
}

func TestRunnerCriticalFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner(testLogger(), nil)
	failed := make(chan string, 1)
	r.OnCriticalFailure = func(name string, err error) {
		failed <- name
	}
	go r.Run(ctx)

	task := &recordingTask{
		name:     "bringup",
		critical: true,
		err:      errors.New("boom"),
		done:     make(chan struct{}),
	}
	if err := r.Submit(ctx, task); err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	select {
	case name := <-failed:
		if name != "bringup" {
			t.Errorf("OnCriticalFailure called with %q, want bringup", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnCriticalFailure never called")
	}
}

type countingReporter struct {
	mu   sync.Mutex
	msgs []string
}

func (c *countingReporter) Report(ctx context.Context, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *countingReporter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestRunnerReportsNonCriticalErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reporter := &countingReporter{}
	r := NewRunner(testLogger(), reporter)
	go r.Run(ctx)

	task := &recordingTask{name: "flaky", err: errors.New("boom"), done: make(chan struct{})}
	if err := r.Submit(ctx, task); err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	<-task.done
	deadline := time.Now().Add(2 * time.Second)
	for reporter.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("reporter never notified")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunnerRecoversPanics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner(testLogger(), nil)
	go r.Run(ctx)

	panicked := Func{TaskName: "panics", Fn: func(ctx context.Context) error {
		panic("boom")
	}}
	if err := r.Submit(ctx, panicked); err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	// A second task still runs after the panic.
	after := &recordingTask{name: "after", done: make(chan struct{})}
	if err := r.Submit(ctx, after); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	select {
	case <-after.done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner stopped dispatching after a panic")
	}
}

func TestSubmitRespectsContext(t *testing.T) {
	r := NewRunner(testLogger(), nil)
	// No Run loop, so the queue fills and Submit must block.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var err error
	for i := 0; i <= queueDepth; i++ {
		err = r.Submit(ctx, Func{TaskName: "fill", Fn: func(ctx context.Context) error { return nil }})
		if err != nil {
			break
		}
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded once the queue is full, got %v", err)
	}
}
