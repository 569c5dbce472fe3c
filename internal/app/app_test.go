package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloudlink/internal/client"
	"cloudlink/internal/command"
	"cloudlink/internal/dashboard"
	"cloudlink/internal/logging"
	"cloudlink/internal/realtime"
	"cloudlink/internal/runstatus"
)

type fakeRegistrar struct {
	calls atomic.Int32
	err   error
}

func (f *fakeRegistrar) Register(context.Context) error {
	f.calls.Add(1)
	return f.err
}

type fakeTokens struct {
	err error
}

func (f *fakeTokens) AccessToken(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "tok", nil
}

type fakeAPI struct {
	snapshot string
	posted   atomic.Int32
}

func (f *fakeAPI) Dashboard(context.Context, string) (dashboard.Dashboard, error) {
	if f.snapshot == "" {
		return dashboard.Dashboard{}, errors.New("no snapshot")
	}
	return dashboard.Parse([]byte(f.snapshot))
}

func (f *fakeAPI) PostCommand(context.Context, string, string, any) (dashboard.CommandStatus, error) {
	f.posted.Add(1)
	return dashboard.CommandStatus{ID: "ack-7", Status: "Pending"}, nil
}

// fakeSession connects immediately and exposes its hooks to the test.
type fakeSession struct {
	connected atomic.Bool
	hooks     chan realtime.Hooks
	stop      chan struct{}
	once      sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{hooks: make(chan realtime.Hooks, 1), stop: make(chan struct{})}
}

func (f *fakeSession) Run(ctx context.Context, hooks realtime.Hooks) error {
	f.connected.Store(true)
	hooks.OnConnected()
	f.hooks <- hooks
	select {
	case <-ctx.Done():
	case <-f.stop:
	}
	f.connected.Store(false)
	hooks.OnDisconnected(realtime.ErrConnectionClosed)
	return ctx.Err()
}

func (f *fakeSession) Connected() bool       { return f.connected.Load() }
func (f *fakeSession) SetAutoReconnect(bool) {}
func (f *fakeSession) Disconnect()           { f.once.Do(func() { close(f.stop) }) }

type fixture struct {
	link      *Link
	registrar *fakeRegistrar
	tokens    *fakeTokens
	api       *fakeAPI
	session   *fakeSession

	mu       sync.Mutex
	statuses []string
}

func newFixture(register bool) *fixture {
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)

	f := &fixture{
		registrar: &fakeRegistrar{},
		tokens:    &fakeTokens{},
		api:       &fakeAPI{snapshot: `{"widgets":[{"type":"temperature","value":21}]}`},
		session:   newFakeSession(),
	}
	dispatcher := command.NewDispatcher(f.api, f.session, time.Second, logger)
	f.link = New(Options{DeviceID: "SN1", Register: register}, Deps{
		Registrar: f.registrar,
		Tokens:    f.tokens,
		API:       f.api,
		Session:   f.session,
		Commands:  dispatcher,
	}, logger, Callbacks{
		OnStatusChange: func(status string) {
			f.mu.Lock()
			f.statuses = append(f.statuses, status)
			f.mu.Unlock()
		},
	})
	return f
}

func (f *fixture) seenStatuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statuses...)
}

func (f *fixture) awaitHooks(t *testing.T) realtime.Hooks {
	t.Helper()
	select {
	case hooks := <-f.session.hooks:
		return hooks
	case <-time.After(2 * time.Second):
		t.Fatal("realtime session never started")
		return realtime.Hooks{}
	}
}

func TestRunContext_FirstRunRegistersAndPublishesUpdates(t *testing.T) {
	f := newFixture(true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.link.RunContext(ctx) }()

	hooks := f.awaitHooks(t)
	if f.registrar.calls.Load() != 1 {
		t.Fatalf("Register calls = %d, want 1", f.registrar.calls.Load())
	}

	select {
	case snapshot := <-f.link.Updates():
		if _, ok := snapshot.Widgets.Get(dashboard.WidgetTemperature); !ok {
			t.Fatal("initial snapshot missing temperature widget")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("initial snapshot not delivered")
	}

	update, err := dashboard.Parse([]byte(`{"widgets":[{"type":"power","on":true},{"type":"air_quality","pm25":4}]}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	hooks.OnUpdate(update)
	select {
	case got := <-f.link.Updates():
		if _, ok := got.Widgets.Get(dashboard.WidgetPower); !ok {
			t.Fatal("realtime update missing power widget")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("realtime update not delivered")
	}

	if _, err := f.link.Widget(dashboard.WidgetPower); err != nil {
		t.Fatalf("Widget(power) error = %v", err)
	}
	if _, err := f.link.Widget(dashboard.WidgetKind("air_quality")); err != nil {
		t.Fatalf("Widget(air_quality) error = %v", err)
	}
	if _, err := f.link.Widget(dashboard.WidgetFan); !errors.Is(err, client.ErrUnsupportedCapability) {
		t.Fatalf("Widget(fan) error = %v, want ErrUnsupportedCapability", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("RunContext() error = %v", err)
	}
	want := []string{runstatus.Registered, runstatus.Authenticated, runstatus.Connected, runstatus.Disconnected}
	got := f.seenStatuses()
	if len(got) != len(want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", got, want)
		}
	}
	if _, open := <-f.link.Updates(); open {
		t.Fatal("Updates() not closed after RunContext returned")
	}
}

func TestRunContext_RejectedRealtimeUpgradeReportsAuthStatus(t *testing.T) {
	f := newFixture(false)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.link.RunContext(ctx) }()

	hooks := f.awaitHooks(t)
	upgradeErr := fmt.Errorf("dial realtime: %w: %w",
		&client.HTTPStatusError{StatusCode: http.StatusUnauthorized}, errors.New("websocket: bad handshake"))
	hooks.OnDisconnected(upgradeErr)
	if got := f.link.Status(); got != runstatus.DisconnectedAuth {
		t.Fatalf("Status() = %q, want %q", got, runstatus.DisconnectedAuth)
	}

	hooks.OnDisconnected(realtime.ErrConnectionClosed)
	if got := f.link.Status(); got != runstatus.Reconnecting {
		t.Fatalf("Status() = %q, want %q", got, runstatus.Reconnecting)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("RunContext() error = %v", err)
	}
}

func TestRunContext_ExistingKeySkipsRegistration(t *testing.T) {
	f := newFixture(false)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.link.RunContext(ctx) }()

	f.awaitHooks(t)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("RunContext() error = %v", err)
	}
	if f.registrar.calls.Load() != 0 {
		t.Fatalf("Register calls = %d, want 0", f.registrar.calls.Load())
	}
}

func TestRunContext_SignInRejected(t *testing.T) {
	f := newFixture(false)
	f.tokens.err = &client.HTTPStatusError{StatusCode: 401, Status: "401 Unauthorized"}

	err := f.link.RunContext(context.Background())
	if !errors.Is(err, ErrSignInFailed) || !errors.Is(err, client.ErrAuthenticationFailed) {
		t.Fatalf("RunContext() error = %v", err)
	}
	if got := f.link.Status(); got != runstatus.DisconnectedAuth {
		t.Fatalf("Status() = %q, want %q", got, runstatus.DisconnectedAuth)
	}
	select {
	case <-f.session.hooks:
		t.Fatal("realtime session started despite sign-in failure")
	default:
	}
}

func TestRunContext_RegistrationFailure(t *testing.T) {
	f := newFixture(true)
	f.registrar.err = &client.HTTPStatusError{StatusCode: 500}

	err := f.link.RunContext(context.Background())
	if !errors.Is(err, ErrRegistrationFailed) || !errors.Is(err, client.ErrRequestFailed) {
		t.Fatalf("RunContext() error = %v", err)
	}
}

func TestExecute_ResolvedByRealtimeMessage(t *testing.T) {
	f := newFixture(false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.link.RunContext(ctx) }()
	hooks := f.awaitHooks(t)

	result := make(chan bool, 1)
	go func() {
		ok, _ := f.link.Execute(ctx, "power", map[string]bool{"on": true})
		result <- ok
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.link.deps.Commands.Pending() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("command never registered as pending")
		}
		time.Sleep(time.Millisecond)
	}

	update, err := dashboard.Parse([]byte(`{"commands":[{"id":"ack-7","status":"Success"}]}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	for _, status := range update.Commands {
		hooks.Resolver.Resolve(status)
	}

	select {
	case ok := <-result:
		if !ok {
			t.Fatal("Execute() = false, want true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return")
	}
	if f.link.deps.Commands.Pending() != 0 {
		t.Fatal("pending entry not removed")
	}

	f.link.Stop()
	if err := <-done; err != nil {
		t.Fatalf("RunContext() error = %v", err)
	}
}

func TestExecute_RequiresName(t *testing.T) {
	f := newFixture(false)
	if _, err := f.link.Execute(context.Background(), " ", nil); err == nil {
		t.Fatal("expected error for empty command name")
	}
	if f.api.posted.Load() != 0 {
		t.Fatal("command posted despite empty name")
	}
}
