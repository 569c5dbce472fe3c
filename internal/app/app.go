package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloudlink/internal/client"
	"cloudlink/internal/command"
	"cloudlink/internal/dashboard"
	"cloudlink/internal/logging"
	"cloudlink/internal/realtime"
	"cloudlink/internal/runstatus"
	"cloudlink/internal/stomp"
)

type Registrar interface {
	Register(ctx context.Context) error
}

type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

type DashboardSource interface {
	Dashboard(ctx context.Context, deviceID string) (dashboard.Dashboard, error)
}

type RealtimeSession interface {
	Run(ctx context.Context, hooks realtime.Hooks) error
	Connected() bool
	SetAutoReconnect(enabled bool)
	Disconnect()
}

type Options struct {
	DeviceID string
	// Register announces the installation key before signing in; set when
	// the key store just created the key.
	Register bool
}

type Deps struct {
	Registrar Registrar
	Tokens    TokenSource
	API       DashboardSource
	Session   RealtimeSession
	Commands  *command.Dispatcher
}

type Callbacks struct {
	OnStatusChange func(string)
	OnUpdate       func(dashboard.Dashboard)
	OnServerError  func(stomp.Frame)
}

// Link is the single owner of one device's cloud connection: tokens, the
// realtime session and command dispatch.
type Link struct {
	opts   Options
	deps   Deps
	logger *logging.Logger
	hooks  Callbacks
	status runtimeStatusState

	incoming chan dashboard.Dashboard
	updates  chan dashboard.Dashboard

	mu     sync.RWMutex
	latest *dashboard.Dashboard
}

func New(opts Options, deps Deps, logger *logging.Logger, hooks Callbacks) *Link {
	if logger == nil {
		panic("app.New: logger must not be nil")
	}
	if deps.Registrar == nil || deps.Tokens == nil || deps.API == nil || deps.Session == nil || deps.Commands == nil {
		panic("app.New: all dependencies must be set")
	}
	return &Link{
		opts:     opts,
		deps:     deps,
		logger:   logger.With(logging.Field("device", opts.DeviceID)),
		hooks:    hooks,
		incoming: make(chan dashboard.Dashboard, 1),
		updates:  make(chan dashboard.Dashboard, 1),
	}
}

// Updates delivers dashboard snapshots, newest first when the reader lags.
// It is closed when RunContext returns.
func (l *Link) Updates() <-chan dashboard.Dashboard {
	return l.updates
}

func (l *Link) Status() string {
	return l.status.get()
}

func (l *Link) Connected() bool {
	return l.deps.Session.Connected()
}

func (l *Link) Latest() (dashboard.Dashboard, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.latest == nil {
		return dashboard.Dashboard{}, false
	}
	return *l.latest, true
}

// Widget returns the named widget from the latest dashboard.
func (l *Link) Widget(kind dashboard.WidgetKind) (json.RawMessage, error) {
	latest, ok := l.Latest()
	if !ok {
		return nil, fmt.Errorf("%w: no dashboard received yet", client.ErrUnsupportedCapability)
	}
	widget, ok := latest.Widgets.Get(kind)
	if !ok {
		return nil, fmt.Errorf("%w: device has no %s widget", client.ErrUnsupportedCapability, kind)
	}
	return widget, nil
}

func (l *Link) Execute(ctx context.Context, name string, payload any) (bool, error) {
	if strings.TrimSpace(name) == "" {
		return false, errors.New("command name is required")
	}
	return l.deps.Commands.Execute(ctx, l.opts.DeviceID, name, payload)
}

// Stop ends the realtime loop after the current connection closes.
func (l *Link) Stop() {
	l.deps.Session.SetAutoReconnect(false)
	l.deps.Session.Disconnect()
}

func (l *Link) RunContext(ctx context.Context) error {
	l.logger.Info("cloud link starting", logging.Field("register", l.opts.Register))

	forwarderDone := make(chan struct{})
	go func() {
		defer close(forwarderDone)
		l.forwardUpdates(ctx)
	}()
	defer func() {
		if ctx.Err() == nil {
			close(l.incoming)
		}
		<-forwarderDone
	}()

	if l.opts.Register {
		if err := l.deps.Registrar.Register(ctx); err != nil {
			l.failStatus(err)
			return fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
		}
		l.setRuntimeStatus(runstatus.Registered)
	}

	if _, err := l.deps.Tokens.AccessToken(ctx); err != nil {
		l.failStatus(err)
		return fmt.Errorf("%w: %w", ErrSignInFailed, err)
	}
	l.setRuntimeStatus(runstatus.Authenticated)

	if snapshot, err := l.deps.API.Dashboard(ctx, l.opts.DeviceID); err != nil {
		l.logger.Warn("initial dashboard fetch failed", logging.Field("error", err))
	} else {
		l.publish(snapshot)
	}

	runErr := l.deps.Session.Run(ctx, realtime.Hooks{
		OnConnected: func() {
			l.setRuntimeStatus(runstatus.Connected)
		},
		OnDisconnected: func(err error) {
			if ctx.Err() != nil {
				return
			}
			if client.IsUnauthorized(err) {
				l.setRuntimeStatus(runstatus.DisconnectedAuth)
			} else {
				l.setRuntimeStatus(runstatus.Reconnecting)
			}
			l.logger.Debug("realtime session disconnected",
				logging.Field("error", err),
				logging.Field("status", client.StatusCode(err)))
		},
		OnUpdate: l.publish,
		OnError: func(frame stomp.Frame) {
			if l.hooks.OnServerError != nil {
				l.hooks.OnServerError(frame)
			}
		},
		Resolver: l.deps.Commands,
	})
	l.setRuntimeStatus(runstatus.Disconnected)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		l.logger.Warn("cloud link stopped with error", logging.Field("error", runErr))
		return runErr
	}
	l.logger.Info("cloud link stopped")
	return nil
}

func (l *Link) failStatus(err error) {
	l.logger.Warn("cloud link startup failed",
		logging.Field("error", err),
		logging.Field("status", client.StatusCode(err)))
	if client.IsUnauthorized(err) {
		l.setRuntimeStatus(runstatus.DisconnectedAuth)
		return
	}
	l.setRuntimeStatus(runstatus.Disconnected)
}

// publish records the snapshot and hands it to the forwarder without
// blocking the realtime loop; an unread older snapshot is replaced.
func (l *Link) publish(update dashboard.Dashboard) {
	l.mu.Lock()
	l.latest = &update
	l.mu.Unlock()

	if l.hooks.OnUpdate != nil {
		l.hooks.OnUpdate(update)
	}
	for {
		select {
		case l.incoming <- update:
			return
		default:
		}
		select {
		case <-l.incoming:
		default:
		}
	}
}

func (l *Link) forwardUpdates(ctx context.Context) {
	relaySnapshots(ctx, l.logger, l.incoming, l.updates)
}

func (l *Link) notifyStatus(status string) {
	if l.hooks.OnStatusChange == nil {
		return
	}
	l.hooks.OnStatusChange(status)
}

func (l *Link) setRuntimeStatus(status string) {
	previous, next, changed := l.status.update(status)
	if !changed {
		return
	}
	l.logger.Debug("runtime status transition",
		logging.Field("from", previous),
		logging.Field("to", next),
	)
	l.notifyStatus(status)
}

type runtimeStatusState struct {
	mu      sync.Mutex
	current string
}

func (s *runtimeStatusState) update(status string) (string, string, bool) {
	trimmed := strings.TrimSpace(status)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == trimmed {
		return s.current, trimmed, false
	}
	previous := s.current
	s.current = trimmed
	return previous, trimmed, true
}

func (s *runtimeStatusState) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
