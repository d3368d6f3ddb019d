package worker

import (
	"context"
	"sync"
	"testing"
	"time"
)

type runCall struct {
	label   string
	startup bool
}

// mockRunner implements SyncRunner for testing.
type mockRunner struct {
	mu       sync.Mutex
	calls    []runCall
	ok       bool
	duration time.Duration
}

func (m *mockRunner) record(c runCall) bool {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	ok := m.ok
	m.mu.Unlock()
	return ok
}

func (m *mockRunner) wait(ctx context.Context) bool {
	if m.duration <= 0 {
		return true
	}
	select {
	case <-time.After(m.duration):
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *mockRunner) SyncOnStartup(ctx context.Context) bool {
	ok := m.record(runCall{label: "startup", startup: true})
	return m.wait(ctx) && ok
}

func (m *mockRunner) RunFullSync(ctx context.Context, label string) bool {
	ok := m.record(runCall{label: label})
	return m.wait(ctx) && ok
}

func (m *mockRunner) getCalls() []runCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]runCall(nil), m.calls...)
}

// waitForCalls waits until n runs have started.
func (m *mockRunner) waitForCalls(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if len(m.getCalls()) >= n {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func runCoordinator(coord *SyncCoordinator) (cancel func(), done chan struct{}) {
	ctx, cancelFn := context.WithCancel(context.Background())
	done = make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()
	return cancelFn, done
}

func TestSyncCoordinator_StartupRunFirst(t *testing.T) {
	runner := &mockRunner{ok: true}
	coord := NewSyncCoordinator(runner, time.Hour, true)

	cancel, done := runCoordinator(coord)
	if !runner.waitForCalls(1, 2*time.Second) {
		t.Fatal("Timed out waiting for startup sync")
	}
	cancel()
	<-done

	if calls := runner.getCalls(); !calls[0].startup {
		t.Errorf("first call = %+v, want startup sync", calls[0])
	}
}

func TestSyncCoordinator_RunsOnInterval(t *testing.T) {
	runner := &mockRunner{ok: true}
	coord := NewSyncCoordinator(runner, 30*time.Millisecond, true)

	cancel, done := runCoordinator(coord)
	// startup + 2 ticks
	if !runner.waitForCalls(3, 2*time.Second) {
		t.Fatal("Timed out waiting for interval-based sync")
	}
	cancel()
	<-done

	for _, c := range runner.getCalls()[1:] {
		if c.startup || c.label != LabelScheduled {
			t.Errorf("scheduled call = %+v, want full sync labelled %q", c, LabelScheduled)
		}
	}
}

func TestSyncCoordinator_NoStartupRun(t *testing.T) {
	runner := &mockRunner{ok: true}
	coord := NewSyncCoordinator(runner, 30*time.Millisecond, false)

	cancel, done := runCoordinator(coord)
	if !runner.waitForCalls(1, 2*time.Second) {
		t.Fatal("Timed out waiting for scheduled sync")
	}
	cancel()
	<-done

	if c := runner.getCalls()[0]; c.startup {
		t.Errorf("first call = %+v, want scheduled full sync", c)
	}
}

func TestSyncCoordinator_ZeroIntervalOnlyStartup(t *testing.T) {
	runner := &mockRunner{ok: true}
	coord := NewSyncCoordinator(runner, 0, true)

	cancel, done := runCoordinator(coord)
	if !runner.waitForCalls(1, 2*time.Second) {
		t.Fatal("Timed out waiting for startup sync")
	}
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if n := len(runner.getCalls()); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestSyncCoordinator_KeepsRunningAfterFailures(t *testing.T) {
	runner := &mockRunner{ok: false}
	coord := NewSyncCoordinator(runner, 20*time.Millisecond, true)

	cancel, done := runCoordinator(coord)
	if !runner.waitForCalls(3, 2*time.Second) {
		t.Fatal("coordinator stopped after a failed run")
	}
	cancel()
	<-done
}

func TestSyncCoordinator_RespectsContextCancellation(t *testing.T) {
	runner := &mockRunner{ok: true, duration: time.Second}
	coord := NewSyncCoordinator(runner, time.Hour, true)

	start := time.Now()
	cancel, done := runCoordinator(coord)
	if !runner.waitForCalls(1, 2*time.Second) {
		t.Fatal("Timed out waiting for startup sync")
	}
	cancel()
	<-done

	if d := time.Since(start); d > 500*time.Millisecond {
		t.Errorf("Coordinator did not respect context cancellation, took %v", d)
	}
}
