package command

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"cloudlink/internal/dashboard"
	"cloudlink/internal/logging"
)

type fakePoster struct {
	ackID string
	err   error
	calls atomic.Int32
}

func (f *fakePoster) PostCommand(_ context.Context, _, _ string, _ any) (dashboard.CommandStatus, error) {
	f.calls.Add(1)
	if f.err != nil {
		return dashboard.CommandStatus{}, f.err
	}
	return dashboard.CommandStatus{ID: f.ackID, Status: "Pending"}, nil
}

type fakeConnectivity bool

func (f fakeConnectivity) Connected() bool { return bool(f) }

func newTestDispatcher(connected bool, timeout time.Duration) (*Dispatcher, *fakePoster) {
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)
	poster := &fakePoster{ackID: "ack-1"}
	return NewDispatcher(poster, fakeConnectivity(connected), timeout, logger), poster
}

type executeResult struct {
	ok  bool
	err error
}

func startExecute(ctx context.Context, d *Dispatcher) <-chan executeResult {
	done := make(chan executeResult, 1)
	go func() {
		ok, err := d.Execute(ctx, "SN1", "power", map[string]bool{"on": true})
		done <- executeResult{ok: ok, err: err}
	}()
	return done
}

func waitPending(t *testing.T, d *Dispatcher, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for d.Pending() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Pending() = %d, want %d", d.Pending(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func awaitResult(t *testing.T, done <-chan executeResult) executeResult {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return")
		return executeResult{}
	}
}

func TestExecute_ConfirmedBySuccessStatus(t *testing.T) {
	d, _ := newTestDispatcher(true, time.Second)
	done := startExecute(context.Background(), d)
	waitPending(t, d, 1)

	if !d.Resolve(dashboard.CommandStatus{ID: "ack-1", Status: "SUCCESS"}) {
		t.Fatal("Resolve() = false, want true")
	}
	res := awaitResult(t, done)
	if res.err != nil || !res.ok {
		t.Fatalf("Execute() = %v, %v; want true, nil", res.ok, res.err)
	}
	if d.Pending() != 0 {
		t.Fatalf("Pending() = %d after resolution", d.Pending())
	}
}

func TestExecute_RejectedStatusIsFalse(t *testing.T) {
	d, _ := newTestDispatcher(true, time.Second)
	done := startExecute(context.Background(), d)
	waitPending(t, d, 1)

	d.Resolve(dashboard.CommandStatus{ID: "ack-1", Status: "Failed", ErrorCode: "E42"})
	res := awaitResult(t, done)
	if res.err != nil || res.ok {
		t.Fatalf("Execute() = %v, %v; want false, nil", res.ok, res.err)
	}
}

func TestExecute_TimeoutRemovesEntry(t *testing.T) {
	d, _ := newTestDispatcher(true, 30*time.Millisecond)
	res := awaitResult(t, startExecute(context.Background(), d))
	if res.err != nil || res.ok {
		t.Fatalf("Execute() = %v, %v; want false, nil", res.ok, res.err)
	}
	if d.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", d.Pending())
	}
	if d.Resolve(dashboard.CommandStatus{ID: "ack-1", Status: "Success"}) {
		t.Fatal("late confirmation must not resolve anything")
	}
}

func TestExecute_NotConnectedAssumesSuccess(t *testing.T) {
	d, poster := newTestDispatcher(false, time.Hour)
	start := time.Now()
	ok, err := d.Execute(context.Background(), "SN1", "power", nil)
	if err != nil || !ok {
		t.Fatalf("Execute() = %v, %v; want true, nil", ok, err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Execute waited without a realtime channel")
	}
	if poster.calls.Load() != 1 || d.Pending() != 0 {
		t.Fatalf("calls = %d pending = %d", poster.calls.Load(), d.Pending())
	}
}

func TestExecute_ContextCancelRemovesEntry(t *testing.T) {
	d, _ := newTestDispatcher(true, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := startExecute(ctx, d)
	waitPending(t, d, 1)
	cancel()

	res := awaitResult(t, done)
	if !errors.Is(res.err, context.Canceled) || res.ok {
		t.Fatalf("Execute() = %v, %v; want false, context.Canceled", res.ok, res.err)
	}
	if d.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", d.Pending())
	}
}

func TestExecute_PostFailurePropagates(t *testing.T) {
	d, poster := newTestDispatcher(true, time.Second)
	boom := errors.New("boom")
	poster.err = boom
	ok, err := d.Execute(context.Background(), "SN1", "power", nil)
	if ok || !errors.Is(err, boom) {
		t.Fatalf("Execute() = %v, %v", ok, err)
	}
	if d.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", d.Pending())
	}
}

func TestResolve_FromDashboardMessage(t *testing.T) {
	d, _ := newTestDispatcher(true, time.Second)
	done := startExecute(context.Background(), d)
	waitPending(t, d, 1)

	update, err := dashboard.Parse([]byte(`{"widgets":[],"commands":[{"id":"other","status":"Success"},{"id":"ack-1","status":"success"}]}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	resolved := 0
	for _, status := range update.Commands {
		if d.Resolve(status) {
			resolved++
		}
	}
	if resolved != 1 {
		t.Fatalf("resolved = %d, want 1", resolved)
	}
	if res := awaitResult(t, done); !res.ok || res.err != nil {
		t.Fatalf("Execute() = %v, %v", res.ok, res.err)
	}
	if d.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", d.Pending())
	}
}

func TestResolve_IgnoresEmptyAndUnknownIDs(t *testing.T) {
	d, _ := newTestDispatcher(true, time.Second)
	if d.Resolve(dashboard.CommandStatus{}) {
		t.Fatal("empty id resolved")
	}
	if d.Resolve(dashboard.CommandStatus{ID: "nobody"}) {
		t.Fatal("unknown id resolved")
	}
}
