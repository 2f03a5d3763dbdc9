package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/skillsync/skillsync-bff/internal/domain"
)

type fakeBackend struct {
	mu sync.Mutex

	loginPair  domain.TokenPair
	loginErr   error
	refreshTok string
	refreshErr error
	user       *domain.User
	userErr    error
	logoutErr  error

	refreshGate chan struct{}

	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
	userTokens   []string
}

func (f *fakeBackend) Login(_ context.Context, _ domain.Credentials) (domain.TokenPair, error) {
	return f.loginPair, f.loginErr
}

func (f *fakeBackend) Refresh(ctx context.Context) (string, error) {
	f.refreshCalls.Add(1)
	if f.refreshGate != nil {
		select {
		case <-f.refreshGate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.refreshTok, f.refreshErr
}

func (f *fakeBackend) CurrentUser(_ context.Context, token string) (*domain.User, error) {
	f.mu.Lock()
	f.userTokens = append(f.userTokens, token)
	f.mu.Unlock()
	return f.user, f.userErr
}

func (f *fakeBackend) Logout(_ context.Context, _ string) error {
	f.logoutCalls.Add(1)
	return f.logoutErr
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestBootstrapFailureLeavesLoggedOutDefaults(t *testing.T) {
	t.Parallel()

	cases := map[string]*fakeBackend{
		"refresh error": {refreshErr: errors.New("no cookie")},
		"empty token":   {refreshTok: ""},
		"profile error": {refreshTok: "access-1", userErr: errors.New("boom")},
	}
	for name, backend := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			m := NewManager(backend)
			got := m.Bootstrap(context.Background())

			want := domain.LoggedOut()
			if got.IsAuthenticated != want.IsAuthenticated || got.AccessToken != "" || got.CurrentUser != nil {
				t.Fatalf("expected logged-out defaults, got %+v", got)
			}
			if got.IsLoading {
				t.Fatal("expected IsLoading=false after bootstrap")
			}
			select {
			case <-m.Ready():
			default:
				t.Fatal("expected Ready to be closed after bootstrap")
			}
		})
	}
}

func TestBootstrapSuccess(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{refreshTok: "access-1", user: &domain.User{ID: 7, Username: "ada"}}
	m := NewManager(backend)

	var loading []bool
	var mu sync.Mutex
	m.AddObserver(ObserverFunc(func(s domain.Session) {
		mu.Lock()
		loading = append(loading, s.IsLoading)
		mu.Unlock()
	}))

	got := m.Bootstrap(context.Background())
	if !got.IsAuthenticated || got.AccessToken != "access-1" {
		t.Fatalf("expected authenticated with access-1, got %+v", got)
	}
	if got.CurrentUser == nil || got.CurrentUser.ID != 7 {
		t.Fatalf("expected current user 7, got %+v", got.CurrentUser)
	}
	if len(backend.userTokens) != 1 || backend.userTokens[0] != "access-1" {
		t.Fatalf("expected profile fetched with refreshed token, got %v", backend.userTokens)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(loading) < 2 || !loading[0] || loading[len(loading)-1] {
		t.Fatalf("expected loading to go true then false, got %v", loading)
	}
}

func TestLoginStoresTokenAndUser(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		loginPair: domain.TokenPair{Access: "access-login", Refresh: "r"},
		user:      &domain.User{ID: 3},
	}
	m := NewManager(backend)

	got, err := m.Login(context.Background(), domain.Credentials{UsernameOrEmail: "ada", Password: "pw"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !got.IsAuthenticated || got.AccessToken != "access-login" || got.CurrentUser.ID != 3 {
		t.Fatalf("unexpected session after login: %+v", got)
	}
}

func TestLoginProfileFailureClearsSession(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		loginPair: domain.TokenPair{Access: "access-login"},
		userErr:   errors.New("profile down"),
	}
	m := NewManager(backend)

	got, err := m.Login(context.Background(), domain.Credentials{})
	if err == nil {
		t.Fatal("expected error")
	}
	if got.IsAuthenticated || got.AccessToken != "" {
		t.Fatalf("expected cleared session, got %+v", got)
	}
}

func TestLoginFailureLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	m := NewManager(&fakeBackend{loginErr: errors.New("bad credentials")})
	if _, err := m.Login(context.Background(), domain.Credentials{}); err == nil {
		t.Fatal("expected error")
	}
	if m.IsAuthenticated() {
		t.Fatal("expected logged out")
	}
}

func TestLogoutClearsEvenWhenRemoteFails(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{logoutErr: errors.New("network")}
	m := NewManager(backend)
	m.SetAuth("access-1")
	m.SetCurrentUser(&domain.User{ID: 1})

	m.Logout(context.Background())

	if m.IsAuthenticated() || m.AccessToken() != "" || m.CurrentUser() != nil {
		t.Fatalf("expected cleared session, got %+v", m.Snapshot())
	}
	if backend.logoutCalls.Load() != 1 {
		t.Fatalf("expected 1 logout call, got %d", backend.logoutCalls.Load())
	}
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	m := NewManager(&fakeBackend{})
	req, _ := http.NewRequest(http.MethodGet, "http://example.test", nil)
	m.Authorize(req)
	if got := req.Header.Get("Authorization"); got != "" {
		t.Fatalf("expected no header when logged out, got %q", got)
	}

	m.SetAuth("abc")
	m.Authorize(req)
	if got := req.Header.Get("Authorization"); got != "Bearer abc" {
		t.Fatalf("expected bearer header, got %q", got)
	}
}

func TestHandleUnauthorizedSingleFlight(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{refreshTok: "fresh", refreshGate: make(chan struct{})}
	m := NewManager(backend)
	m.SetAuth("stale")

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = m.HandleUnauthorized(context.Background(), "stale")
		}()
	}

	// Let every caller reach the shared refresh before it resolves.
	deadline := time.Now().Add(2 * time.Second)
	for backend.refreshCalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(backend.refreshGate)
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error %v", i, errs[i])
		}
		if results[i] != "fresh" {
			t.Fatalf("caller %d: expected fresh token, got %q", i, results[i])
		}
	}
	if n := backend.refreshCalls.Load(); n != 1 {
		t.Fatalf("expected exactly 1 refresh call, got %d", n)
	}
	if m.AccessToken() != "fresh" {
		t.Fatalf("expected stored token fresh, got %q", m.AccessToken())
	}
}

func TestHandleUnauthorizedReturnsNewerToken(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{refreshTok: "unused"}
	m := NewManager(backend)
	m.SetAuth("already-refreshed")

	tok, err := m.HandleUnauthorized(context.Background(), "stale")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "already-refreshed" {
		t.Fatalf("expected current token, got %q", tok)
	}
	if backend.refreshCalls.Load() != 0 {
		t.Fatal("expected no refresh call")
	}
}

func TestHandleUnauthorizedRefreshFailureClears(t *testing.T) {
	t.Parallel()

	m := NewManager(&fakeBackend{refreshErr: errors.New("expired")})
	m.SetAuth("stale")
	m.SetCurrentUser(&domain.User{ID: 9})

	_, err := m.HandleUnauthorized(context.Background(), "stale")
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}
	if m.IsAuthenticated() || m.CurrentUser() != nil {
		t.Fatalf("expected cleared session, got %+v", m.Snapshot())
	}
}

func TestRefreshResolvingAfterLogoutIsDiscarded(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{refreshTok: "late", refreshGate: make(chan struct{})}
	m := NewManager(backend)
	m.SetAuth("stale")

	done := make(chan error, 1)
	go func() {
		_, err := m.HandleUnauthorized(context.Background(), "stale")
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for backend.refreshCalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	m.Clear()
	close(backend.refreshGate)

	if err := <-done; !errors.Is(err, ErrSessionCleared) {
		t.Fatalf("expected ErrSessionCleared, got %v", err)
	}
	if m.IsAuthenticated() || m.AccessToken() != "" {
		t.Fatalf("expected session to stay cleared, got %+v", m.Snapshot())
	}
}

func TestHandleUnauthorizedCallerCancellation(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{refreshTok: "fresh", refreshGate: make(chan struct{})}
	m := NewManager(backend)
	m.SetAuth("stale")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.HandleUnauthorized(ctx, "stale"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(backend.refreshGate)
}

func TestTokenExpiryAndRefreshIfExpiring(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	m := NewManager(backend)

	if _, ok := m.TokenExpiry(); ok {
		t.Fatal("expected no expiry without token")
	}

	exp := time.Now().Add(30 * time.Second).Truncate(time.Second)
	m.SetAuth(signedToken(t, exp))
	got, ok := m.TokenExpiry()
	if !ok || !got.Equal(exp) {
		t.Fatalf("expected expiry %v, got %v (ok=%v)", exp, got, ok)
	}

	backend.refreshTok = signedToken(t, time.Now().Add(time.Hour))
	refreshed, err := m.RefreshIfExpiring(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("RefreshIfExpiring failed: %v", err)
	}
	if !refreshed || backend.refreshCalls.Load() != 1 {
		t.Fatalf("expected one proactive refresh, got refreshed=%v calls=%d", refreshed, backend.refreshCalls.Load())
	}

	refreshed, err = m.RefreshIfExpiring(context.Background(), time.Minute)
	if err != nil || refreshed {
		t.Fatalf("expected no refresh for fresh token, got refreshed=%v err=%v", refreshed, err)
	}
}

func TestOpaqueTokenIsNotProactivelyRefreshed(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{refreshTok: "x"}
	m := NewManager(backend)
	m.SetAuth("opaque-token")

	refreshed, err := m.RefreshIfExpiring(context.Background(), time.Minute)
	if err != nil || refreshed {
		t.Fatalf("expected no refresh, got refreshed=%v err=%v", refreshed, err)
	}
	if backend.refreshCalls.Load() != 0 {
		t.Fatal("expected no refresh call")
	}
}

func TestLateProfileAfterLogoutIsDropped(t *testing.T) {
	t.Parallel()

	m := NewManager(&fakeBackend{})
	m.SetAuth("tok")
	m.Clear()
	m.SetCurrentUser(&domain.User{ID: 9})

	if s := m.Snapshot(); s.IsAuthenticated || s.CurrentUser != nil {
		t.Fatalf("expected logged out after late profile, got %+v", s)
	}
}

func TestSetCurrentUserIfRejectsOlderGeneration(t *testing.T) {
	t.Parallel()

	m := NewManager(&fakeBackend{})
	m.SetAuth("first")
	gen := m.Generation()

	m.SetAuth("second")
	if m.SetCurrentUserIf(gen, &domain.User{ID: 1}) {
		t.Fatal("expected profile of the previous session to be rejected")
	}
	if m.CurrentUser() != nil {
		t.Fatalf("unexpected user %+v", m.CurrentUser())
	}

	if !m.SetCurrentUserIf(m.Generation(), &domain.User{ID: 2}) {
		t.Fatal("expected profile of the current session to be stored")
	}
	if u := m.CurrentUser(); u == nil || u.ID != 2 {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestHandleUnauthorizedReturnsTokenFromLoginDuringRefresh(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{refreshTok: "late", refreshGate: make(chan struct{})}
	m := NewManager(backend)
	m.SetAuth("stale")

	type result struct {
		token string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		tok, err := m.HandleUnauthorized(context.Background(), "stale")
		done <- result{tok, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for backend.refreshCalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	m.SetAuth("from-login")
	close(backend.refreshGate)

	res := <-done
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if res.token != "from-login" {
		t.Fatalf("expected token from login, got %q", res.token)
	}
	if m.AccessToken() != "from-login" {
		t.Fatalf("login token must survive, got %q", m.AccessToken())
	}
}

func TestObserversSeeChangesInOrder(t *testing.T) {
	t.Parallel()

	for range 20 {
		m := NewManager(&fakeBackend{})
		var mu sync.Mutex
		var last string
		m.AddObserver(ObserverFunc(func(s domain.Session) {
			time.Sleep(50 * time.Microsecond)
			mu.Lock()
			last = s.AccessToken
			mu.Unlock()
		}))

		var wg sync.WaitGroup
		for i := range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := range 5 {
					m.SetAuth(string(rune('a'+i)) + string(rune('0'+j)))
				}
			}()
		}
		wg.Wait()

		mu.Lock()
		got := last
		mu.Unlock()
		if got != m.AccessToken() {
			t.Fatalf("last delivered token %q, state holds %q", got, m.AccessToken())
		}
	}
}
