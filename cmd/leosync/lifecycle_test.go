package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leobook/leosync/internal/worker"
)

// logCapture captures slog output for testing
type logCapture struct {
	mu      sync.Mutex
	entries []map[string]any
}

func (c *logCapture) handler() slog.Handler {
	return slog.NewJSONHandler(c, &slog.HandlerOptions{Level: slog.LevelDebug})
}

func (c *logCapture) Write(p []byte) (n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var entry map[string]any
	if err := json.Unmarshal(p, &entry); err == nil {
		c.entries = append(c.entries, entry)
	}
	return len(p), nil
}

func (c *logCapture) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var msgs []string
	for _, e := range c.entries {
		if msg, ok := e["msg"].(string); ok {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func (c *logCapture) hasMessage(msg string) bool {
	for _, m := range c.messages() {
		if m == msg {
			return true
		}
	}
	return false
}

func captureDefault(t *testing.T) *logCapture {
	t.Helper()
	capture := &logCapture{}
	old := slog.Default()
	slog.SetDefault(slog.New(capture.handler()))
	t.Cleanup(func() { slog.SetDefault(old) })
	return capture
}

func TestStartWorker_LaunchesGoroutineAndTracksCompletion(t *testing.T) {
	capture := captureDefault(t)

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	startWorker(ctx, &wg, "test-worker", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("worker function was not called")
	}

	cancel()
	wg.Wait()

	if !capture.hasMessage("worker started") {
		t.Error("expected 'worker started' log message")
	}
	if !capture.hasMessage("worker stopped") {
		t.Error("expected 'worker stopped' log message")
	}
}

func TestStartWorker_LogsWorkerName(t *testing.T) {
	capture := captureDefault(t)

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	startWorker(ctx, &wg, "sync-coordinator", func(ctx context.Context) {
		<-ctx.Done()
	})
	cancel()
	wg.Wait()

	capture.mu.Lock()
	defer capture.mu.Unlock()
	for _, entry := range capture.entries {
		if name, ok := entry["worker"].(string); ok && name == "sync-coordinator" {
			return
		}
	}
	t.Error("expected log entry with worker='sync-coordinator' attribute")
}

func TestWorkerWaitGroupIntegration(t *testing.T) {
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	completed := atomic.Bool{}
	startWorker(ctx, &wg, "slow-worker", func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		completed.Store(true)
	})

	cancel()
	wg.Wait()

	if !completed.Load() {
		t.Error("wg.Wait() returned before worker completed")
	}
}

// countingRunner implements worker.SyncRunner.
type countingRunner struct {
	mu       sync.Mutex
	startups int
	labels   []string
}

func (r *countingRunner) SyncOnStartup(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startups++
	return true
}

func (r *countingRunner) RunFullSync(ctx context.Context, label string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels = append(r.labels, label)
	return true
}

func TestSyncCoordinatorStopsWithWorkerContext(t *testing.T) {
	// Given: the coordinator launched the way run() launches it
	runner := &countingRunner{}
	coord := worker.NewSyncCoordinator(runner, time.Hour, true)

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	startWorker(ctx, &wg, "sync-coordinator", coord.Run)

	deadline := time.Now().Add(2 * time.Second)
	for {
		runner.mu.Lock()
		n := runner.startups
		runner.mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// When: shutdown cancels the worker context
	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	// Then: the coordinator returns promptly after the startup sync
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("coordinator did not stop on cancellation")
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.startups != 1 {
		t.Errorf("startups = %d, want 1", runner.startups)
	}
	if len(runner.labels) != 0 {
		t.Errorf("scheduled runs = %v, want none within an hour interval", runner.labels)
	}
}
