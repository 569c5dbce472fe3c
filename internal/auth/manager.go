package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"cloudlink/internal/client"
	"cloudlink/internal/logging"
)

const (
	// TokenLifetime is asserted by the client at issuance; the server's own
	// expiry claim is only inspected for diagnostics.
	TokenLifetime = time.Hour
	RefreshWindow = 10 * time.Minute

	flightKey = "token"
)

type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type Credentials struct {
	Username string
	Password string
}

type Authenticator interface {
	SignIn(ctx context.Context, username, password string) (client.Grant, error)
	Refresh(ctx context.Context, username, refreshToken string) (client.Grant, error)
}

type action int

const (
	actionReuse action = iota
	actionRefresh
	actionSignIn
)

func decide(current *Token, now time.Time) action {
	switch {
	case current == nil:
		return actionSignIn
	case current.ExpiresAt.Before(now):
		return actionSignIn
	case current.ExpiresAt.Before(now.Add(RefreshWindow)):
		if strings.TrimSpace(current.RefreshToken) == "" {
			return actionSignIn
		}
		return actionRefresh
	default:
		return actionReuse
	}
}

// Manager hands out bearer tokens. At most one sign-in or refresh runs at a
// time; callers that arrive while it runs share its result.
type Manager struct {
	auth   Authenticator
	creds  Credentials
	now    func() time.Time
	logger *logging.Logger

	mu      sync.Mutex
	current *Token
	flight  singleflight.Group
}

func NewManager(auth Authenticator, creds Credentials, logger *logging.Logger) *Manager {
	if logger == nil {
		panic("auth.NewManager: logger must not be nil")
	}
	if auth == nil {
		panic("auth.NewManager: authenticator must not be nil")
	}
	return &Manager{auth: auth, creds: creds, now: time.Now, logger: logger}
}

func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	if decide(current, m.now()) == actionReuse {
		return current.AccessToken, nil
	}

	// The flight outlives any single caller; the HTTP client timeout bounds it.
	flightCtx := context.WithoutCancel(ctx)
	results := m.flight.DoChan(flightKey, func() (any, error) {
		return m.obtain(flightCtx)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Current reports the held token, if any.
func (m *Manager) Current() (Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Token{}, false
	}
	return *m.current, true
}

// Invalidate drops the held token so the next caller signs in again.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	dropped := m.current != nil
	m.current = nil
	m.mu.Unlock()
	if dropped {
		m.logger.Debug("access token invalidated")
	}
}

func (m *Manager) obtain(ctx context.Context) (string, error) {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()

	switch decide(current, m.now()) {
	case actionReuse:
		return current.AccessToken, nil
	case actionRefresh:
		grant, err := m.auth.Refresh(ctx, m.creds.Username, current.RefreshToken)
		if err == nil {
			m.logger.Debug("access token refreshed")
			return m.store(grant), nil
		}
		if !errors.Is(err, client.ErrAuthenticationFailed) {
			return "", fmt.Errorf("refresh access token: %w", err)
		}
		m.logger.Warn("refresh token rejected; signing in again", logging.Field("error", err))
	}

	grant, err := m.auth.SignIn(ctx, m.creds.Username, m.creds.Password)
	if err != nil {
		return "", fmt.Errorf("sign in: %w", err)
	}
	m.logger.Info("signed in", logging.Field("username", m.creds.Username))
	return m.store(grant), nil
}

func (m *Manager) store(grant client.Grant) string {
	token := &Token{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    m.now().Add(TokenLifetime),
	}
	m.checkServerExpiry(token)

	m.mu.Lock()
	m.current = token
	m.mu.Unlock()
	return token.AccessToken
}

func (m *Manager) checkServerExpiry(token *Token) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token.AccessToken, claims); err != nil {
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if exp.Time.Before(token.ExpiresAt) {
		m.logger.Warn("access token expires before the asserted lifetime",
			logging.Field("token_exp", exp.Time.UTC().Format(time.RFC3339)),
			logging.Field("asserted_exp", token.ExpiresAt.UTC().Format(time.RFC3339)),
		)
	}
}
