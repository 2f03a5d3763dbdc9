// Package session owns the authentication token lifecycle of the BFF: silent
// bootstrap, login/logout, bearer attachment and single-flight refresh.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/skillsync/skillsync-bff/internal/domain"
	"github.com/skillsync/skillsync-bff/internal/shared"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNotAuthenticated is returned when an operation needs a session and there is none.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrRefreshFailed wraps any failure of the refresh call.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrNoAccessToken is returned when the server answers without an access token.
	ErrNoAccessToken = errors.New("no access token in response")
	// ErrSessionCleared is returned when a refresh resolves after the session was cleared.
	ErrSessionCleared = errors.New("session cleared while refreshing")
)

const (
	defaultRefreshTimeout = 10 * time.Second
	refreshKey            = "refresh"
)

// Backend performs the remote calls the session depends on. Implementations
// must not route these calls through the retrying auth transport.
type Backend interface {
	Login(ctx context.Context, creds domain.Credentials) (domain.TokenPair, error)
	Refresh(ctx context.Context) (string, error)
	CurrentUser(ctx context.Context, accessToken string) (*domain.User, error)
	Logout(ctx context.Context, accessToken string) error
}

// Observer is notified with a snapshot after every session change, in the
// order the changes were applied. Observers must not mutate the session.
type Observer interface {
	SessionChanged(s domain.Session)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(domain.Session)

// SessionChanged implements Observer.
func (f ObserverFunc) SessionChanged(s domain.Session) { f(s) }

// Manager is the process-wide session state container.
type Manager struct {
	backend        Backend
	logger         *slog.Logger
	tracer         trace.Tracer
	refreshTimeout time.Duration

	mu         sync.RWMutex
	state      domain.Session
	generation uint64

	group singleflight.Group

	seq       shared.Sequencer
	obsMu     sync.RWMutex
	observers []Observer

	ready     chan struct{}
	readyOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRefreshTimeout bounds a single shared refresh call.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.refreshTimeout = d
		}
	}
}

// WithObserver registers an observer at construction time.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observers = append(m.observers, o)
	}
}

// NewManager creates a logged-out manager.
func NewManager(backend Backend, opts ...Option) *Manager {
	m := &Manager{
		backend:        backend,
		logger:         slog.Default(),
		tracer:         otel.Tracer("github.com/skillsync/skillsync-bff/internal/session"),
		refreshTimeout: defaultRefreshTimeout,
		state:          domain.LoggedOut(),
		ready:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddObserver registers an observer.
func (m *Manager) AddObserver(o Observer) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observers = append(m.observers, o)
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// AccessToken returns the current access token, or "".
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.AccessToken
}

// IsAuthenticated reports whether the session is authenticated.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.IsAuthenticated
}

// CurrentUser returns a copy of the current user, or nil.
func (m *Manager) CurrentUser() *domain.User {
	return m.Snapshot().CurrentUser
}

// Ready is closed once the first Bootstrap has resolved.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Bootstrap restores the session from the ambient refresh credential. It
// never fails: any error resolves into the logged-out state. IsLoading is
// true for the duration of the call.
func (m *Manager) Bootstrap(ctx context.Context) domain.Session {
	ctx, span := m.tracer.Start(ctx, "session.Bootstrap")
	defer span.End()

	m.setLoading(true)
	if err := m.restore(ctx); err != nil {
		span.RecordError(err)
		m.logger.Info("Silent refresh failed, starting logged out", "error", err)
		m.Clear()
	}
	m.setLoading(false)
	m.readyOnce.Do(func() { close(m.ready) })

	return m.Snapshot()
}

func (m *Manager) restore(ctx context.Context) error {
	gen := m.Generation()
	token, err := m.refreshShared(ctx)
	if err != nil {
		return err
	}
	user, err := m.backend.CurrentUser(ctx, token)
	if err != nil {
		return fmt.Errorf("fetch current user: %w", err)
	}
	if !m.SetCurrentUserIf(gen, user) {
		return ErrSessionCleared
	}
	m.logger.Info("Session restored", "user_id", user.ID)
	return nil
}

// Login exchanges credentials for a token, stores it and loads the profile.
// A profile failure after a successful login clears the session.
func (m *Manager) Login(ctx context.Context, creds domain.Credentials) (domain.Session, error) {
	ctx, span := m.tracer.Start(ctx, "session.Login")
	defer span.End()

	pair, err := m.backend.Login(ctx, creds)
	if err != nil {
		span.RecordError(err)
		return m.Snapshot(), fmt.Errorf("login: %w", err)
	}
	if pair.Access == "" {
		return m.Snapshot(), fmt.Errorf("login: %w", ErrNoAccessToken)
	}

	gen := m.SetAuth(pair.Access)
	user, err := m.backend.CurrentUser(ctx, pair.Access)
	if err != nil {
		span.RecordError(err)
		m.Clear()
		return m.Snapshot(), fmt.Errorf("fetch profile after login: %w", err)
	}
	if !m.SetCurrentUserIf(gen, user) {
		return m.Snapshot(), ErrSessionCleared
	}

	m.logger.Info("User logged in", "user_id", user.ID)
	return m.Snapshot(), nil
}

// Logout invalidates the refresh credential remotely and always clears the
// local session, whatever the remote outcome.
func (m *Manager) Logout(ctx context.Context) {
	if err := m.backend.Logout(ctx, m.AccessToken()); err != nil {
		m.logger.Warn("Remote logout failed, clearing local session anyway", "error", err)
	}
	m.Clear()
}

// Authorize attaches the current access token as a bearer credential.
func (m *Manager) Authorize(req *http.Request) {
	if token := m.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// HandleUnauthorized is called once for a request that failed with 401 while
// carrying staleToken. It returns a token to retry with. Concurrent callers
// share one refresh call. On refresh failure the session is cleared.
func (m *Manager) HandleUnauthorized(ctx context.Context, staleToken string) (string, error) {
	if current := m.AccessToken(); current != "" && current != staleToken {
		return current, nil
	}
	token, err := m.refreshShared(ctx)
	if errors.Is(err, ErrSessionCleared) {
		// A login replaced the session while the refresh was in flight.
		if current := m.AccessToken(); current != "" && current != staleToken {
			return current, nil
		}
	}
	return token, err
}

// RefreshIfExpiring refreshes the access token when it expires within d.
// It reports whether a refresh happened.
func (m *Manager) RefreshIfExpiring(ctx context.Context, d time.Duration) (bool, error) {
	if !m.IsAuthenticated() {
		return false, nil
	}
	exp, ok := m.TokenExpiry()
	if ok && time.Until(exp) > d {
		return false, nil
	}
	if !ok && m.AccessToken() != "" {
		// Opaque token: nothing to schedule against.
		return false, nil
	}
	if _, err := m.refreshShared(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// TokenExpiry reads the exp claim of the access token without verifying it.
func (m *Manager) TokenExpiry() (time.Time, bool) {
	token := m.AccessToken()
	if token == "" {
		return time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// SetAuth stores a fresh token and marks the session authenticated. It starts
// a new session generation and returns it.
func (m *Manager) SetAuth(token string) uint64 {
	m.mu.Lock()
	m.generation++
	m.state.IsAuthenticated = true
	m.state.AccessToken = token
	gen := m.generation
	snap, ticket := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(ticket, snap)
	return gen
}

// SetCurrentUser stores the profile; a present user implies authenticated.
// A user arriving while no access token is held is dropped, so a profile
// response landing after logout cannot sign the session back in.
func (m *Manager) SetCurrentUser(user *domain.User) {
	m.mu.Lock()
	if user != nil && m.state.AccessToken == "" {
		m.mu.Unlock()
		m.logger.Debug("Dropping profile for logged-out session", "user_id", user.ID)
		return
	}
	m.setUserLocked(user)
	snap, ticket := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(ticket, snap)
}

// Generation identifies the current session. Login and Clear start a new one;
// token refreshes keep it.
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// SetCurrentUserIf stores user only while the session generation is still gen
// and a token is held. Callers capture gen before fetching the profile.
func (m *Manager) SetCurrentUserIf(gen uint64, user *domain.User) bool {
	m.mu.Lock()
	if m.generation != gen || m.state.AccessToken == "" {
		m.mu.Unlock()
		return false
	}
	m.setUserLocked(user)
	snap, ticket := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(ticket, snap)
	return true
}

// Clear resets the session to logged-out defaults. IsLoading is preserved.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.generation++
	loading := m.state.IsLoading
	m.state = domain.LoggedOut()
	m.state.IsLoading = loading
	snap, ticket := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(ticket, snap)
}

func (m *Manager) refreshShared(ctx context.Context) (string, error) {
	ch := m.group.DoChan(refreshKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		return m.refresh(rctx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	ctx, span := m.tracer.Start(ctx, "session.refresh")
	defer span.End()

	gen := m.Generation()
	token, err := m.backend.Refresh(ctx)
	if err == nil && token == "" {
		err = ErrNoAccessToken
	}
	if err != nil {
		span.RecordError(err)
		m.logger.Warn("Token refresh failed", "error", err)
		m.clearIf(gen)
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	if !m.setTokenIf(gen, token) {
		m.logger.Info("Discarding refreshed token for cleared session")
		return "", ErrSessionCleared
	}
	m.logger.Debug("Access token refreshed")
	return token, nil
}

func (m *Manager) setTokenIf(gen uint64, token string) bool {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return false
	}
	m.state.IsAuthenticated = true
	m.state.AccessToken = token
	snap, ticket := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(ticket, snap)
	return true
}

func (m *Manager) setUserLocked(user *domain.User) {
	if user == nil {
		m.state.CurrentUser = nil
		return
	}
	u := *user
	m.state.CurrentUser = &u
	m.state.IsAuthenticated = true
}

func (m *Manager) clearIf(gen uint64) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.Clear()
}

func (m *Manager) setLoading(v bool) {
	m.mu.Lock()
	m.state.IsLoading = v
	snap, ticket := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(ticket, snap)
}

// snapshotLocked copies the state and reserves its delivery slot. m.mu must
// be held for writing.
func (m *Manager) snapshotLocked() (domain.Session, uint64) {
	return m.state.Clone(), m.seq.Ticket()
}

func (m *Manager) notify(ticket uint64, s domain.Session) {
	m.obsMu.RLock()
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.obsMu.RUnlock()

	m.seq.Deliver(ticket, func() {
		for _, o := range observers {
			o.SessionChanged(s)
		}
	})
}
