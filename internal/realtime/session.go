package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cloudlink/internal/client"
	"cloudlink/internal/dashboard"
	"cloudlink/internal/logging"
	"cloudlink/internal/stomp"
)

const (
	DefaultReconnectDelay   = 5 * time.Second
	DefaultHandshakeTimeout = 15 * time.Second

	acceptVersion = "1.2,1.1,1.0"
	heartBeat     = "0,0"
)

var (
	ErrAlreadyRunning   = errors.New("realtime session already running")
	ErrHandshakeTimeout = errors.New("realtime handshake timed out")
	ErrConnectionClosed = errors.New("realtime connection closed")
)

type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate()
}

type HeaderSigner interface {
	RequestHeaders() (http.Header, error)
}

// Resolver receives every command status carried by a dashboard update.
type Resolver interface {
	Resolve(status dashboard.CommandStatus) bool
}

type Hooks struct {
	OnConnected    func()
	OnDisconnected func(err error)
	OnUpdate       func(dashboard.Dashboard)
	OnError        func(stomp.Frame)
	Resolver       Resolver
}

type Config struct {
	URL              string
	DeviceID         string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
}

type Session struct {
	cfg    Config
	dialer *websocket.Dialer
	tokens TokenSource
	signer HeaderSigner
	logger *logging.Logger

	state         atomic.Int32
	connected     atomic.Bool
	autoReconnect atomic.Bool
	running       atomic.Bool

	mu            sync.Mutex
	disconnect    func()
	cancelAttempt context.CancelFunc
	stopRetry     context.CancelFunc
}

func NewSession(cfg Config, tokens TokenSource, signer HeaderSigner, logger *logging.Logger) *Session {
	if logger == nil {
		panic("realtime.NewSession: logger must not be nil")
	}
	if tokens == nil || signer == nil {
		panic("realtime.NewSession: tokens and signer must not be nil")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	s := &Session{
		cfg:    cfg,
		dialer: &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: cfg.HandshakeTimeout},
		tokens: tokens,
		signer: signer,
		logger: logger.With(logging.Field("device", cfg.DeviceID)),
	}
	s.autoReconnect.Store(true)
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) Connected() bool { return s.connected.Load() }

// SetAutoReconnect(false) makes Run return once the current connection ends
// and cuts short any pending reconnect wait.
func (s *Session) SetAutoReconnect(enabled bool) {
	s.autoReconnect.Store(enabled)
	if enabled {
		return
	}
	s.mu.Lock()
	stop := s.stopRetry
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Disconnect closes the current connection, or aborts one still being
// established. Safe to call repeatedly.
func (s *Session) Disconnect() {
	s.mu.Lock()
	action, cancel := s.disconnect, s.cancelAttempt
	s.mu.Unlock()
	if action != nil {
		action()
	}
	if cancel != nil {
		cancel()
	}
}

// Run keeps a realtime connection alive until ctx ends or auto-reconnect is
// disabled. Connection failures are reported to hooks, never returned.
func (s *Session) Run(ctx context.Context, hooks Hooks) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	retryCtx, stopRetry := context.WithCancel(ctx)
	defer stopRetry()
	s.mu.Lock()
	s.stopRetry = stopRetry
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.stopRetry = nil
		s.mu.Unlock()
	}()

	attempts := 0
	_, _ = backoff.Retry(retryCtx, func() (struct{}, error) {
		attempts++
		attemptCtx, cancelAttempt := context.WithCancel(ctx)
		defer cancelAttempt()
		if !s.beginAttempt(attempts == 1, cancelAttempt) {
			s.logger.Info("realtime session stopped; auto-reconnect disabled")
			return struct{}{}, backoff.Permanent(ErrConnectionClosed)
		}
		err := s.runConnection(attemptCtx, hooks)
		s.endAttempt()
		if err == nil || (ctx.Err() == nil && errors.Is(err, context.Canceled)) {
			err = ErrConnectionClosed
		}
		if hooks.OnDisconnected != nil {
			hooks.OnDisconnected(err)
		}
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		if !s.autoReconnect.Load() {
			s.logger.Info("realtime session stopped; auto-reconnect disabled", logging.Field("error", err))
			return struct{}{}, backoff.Permanent(err)
		}
		s.logger.Warn("realtime connection lost", logging.Field("error", err))
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.cfg.ReconnectDelay)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Debug("reconnecting realtime session",
				logging.Field("error", err),
				logging.Field("next_retry", next.String()))
		}),
	)

	if ctx.Err() != nil {
		s.logger.Debug("realtime session stopped: context canceled", logging.Field("error", ctx.Err()))
		return ctx.Err()
	}
	return nil
}

func (s *Session) setState(state State) {
	previous := State(s.state.Swap(int32(state)))
	if previous != state {
		s.logger.Debug("realtime state", logging.Field("from", previous.String()), logging.Field("to", state.String()))
	}
}

// beginAttempt registers the attempt's cancel func unless reconnecting has
// been disabled. The first attempt always runs.
func (s *Session) beginAttempt(first bool, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !first && !s.autoReconnect.Load() {
		return false
	}
	s.cancelAttempt = cancel
	return true
}

func (s *Session) endAttempt() {
	s.mu.Lock()
	s.cancelAttempt = nil
	s.mu.Unlock()
}

func (s *Session) bind(action func()) {
	s.mu.Lock()
	s.disconnect = action
	s.mu.Unlock()
}

// runConnection performs one connect, handshake and steady-state cycle.
func (s *Session) runConnection(ctx context.Context, hooks Hooks) error {
	s.setState(Connecting)
	defer func() {
		s.connected.Store(false)
		s.bind(nil)
		s.setState(Disconnected)
	}()

	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("acquire access token: %w", err)
	}
	headers, err := s.signer.RequestHeaders()
	if err != nil {
		return fmt.Errorf("sign realtime upgrade: %w", err)
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	ws, resp, err := s.dialer.DialContext(dialCtx, s.cfg.URL, headers)
	cancelDial()
	if err != nil {
		if resp != nil {
			s.logger.Warn("realtime upgrade rejected", logging.Field("status", resp.Status))
			if resp.StatusCode == http.StatusUnauthorized {
				s.tokens.Invalidate()
			}
			return fmt.Errorf("dial realtime: %w: %w",
				&client.HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}, err)
		}
		return fmt.Errorf("dial realtime: %w", err)
	}

	c := newConn(ws, s.logger)
	closeConn := c.closeAction("")
	s.bind(closeConn)
	defer func() {
		s.Disconnect()
		closeConn()
	}()

	if err := c.send(stomp.Connect, []stomp.Header{
		{Key: "host", Value: hostOf(s.cfg.URL)},
		{Key: "accept-version", Value: acceptVersion},
		{Key: "heart-beat", Value: heartBeat},
		{Key: "Authorization", Value: "Bearer " + token},
	}, nil); err != nil {
		return fmt.Errorf("send CONNECT: %w", err)
	}
	s.setState(AwaitingConnected)

	if err := s.awaitConnected(ctx, c); err != nil {
		return err
	}

	s.setState(Subscribing)
	subscriptionID := uuid.NewString()
	if err := c.send(stomp.Subscribe, []stomp.Header{
		{Key: "destination", Value: "/ws/sn/" + s.cfg.DeviceID + "/dashboard"},
		{Key: "ack", Value: "auto"},
		{Key: "id", Value: subscriptionID},
		{Key: "content-length", Value: "0"},
	}, nil); err != nil {
		return fmt.Errorf("send SUBSCRIBE: %w", err)
	}
	s.bind(c.closeAction(subscriptionID))
	s.setState(Active)
	s.connected.Store(true)
	s.logger.Info("realtime session active", logging.Field("subscription", subscriptionID))
	if hooks.OnConnected != nil {
		hooks.OnConnected()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-c.errs:
			return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		case raw := <-c.frames:
			s.handleFrame(raw, hooks)
		}
	}
}

func (s *Session) awaitConnected(ctx context.Context, c *conn) error {
	timer := time.NewTimer(s.cfg.HandshakeTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return ErrHandshakeTimeout
		case err := <-c.errs:
			return fmt.Errorf("%w before CONNECTED: %v", ErrConnectionClosed, err)
		case raw := <-c.frames:
			frame, err := stomp.Decode(raw)
			if err != nil {
				s.logger.Debug("dropping malformed frame during handshake", logging.Field("error", err))
				continue
			}
			if frame.Command == stomp.Connected {
				version, _ := frame.Header("version")
				s.logger.Debug("realtime CONNECTED", logging.Field("version", version))
				return nil
			}
			s.logger.Debug("ignoring frame before CONNECTED", logging.Field("command", string(frame.Command)))
		}
	}
}

func (s *Session) handleFrame(raw []byte, hooks Hooks) {
	frame, err := stomp.Decode(raw)
	if err != nil {
		s.logger.Warn("dropping malformed realtime frame",
			logging.Field("error", err),
			logging.Field("frame", logging.Truncate(string(raw))),
		)
		return
	}

	switch frame.Command {
	case stomp.Error:
		message, _ := frame.Header("message")
		s.logger.Warn("realtime server error",
			logging.Field("message", message),
			logging.Field("body", logging.FormatHTTPPayload(frame.Body)),
		)
		if hooks.OnError != nil {
			hooks.OnError(frame)
		}
	case stomp.Message:
		update, err := dashboard.Parse(frame.Body)
		if err != nil {
			s.logger.Warn("dropping undecodable dashboard message",
				logging.Field("error", err),
				logging.Field("body", logging.FormatHTTPPayload(frame.Body)),
			)
			return
		}
		if hooks.Resolver != nil {
			for _, status := range update.Commands {
				hooks.Resolver.Resolve(status)
			}
		}
		if hooks.OnUpdate != nil {
			hooks.OnUpdate(update)
		}
	default:
		s.logger.Debug("ignoring realtime frame", logging.Field("command", string(frame.Command)))
	}
}

func hostOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
