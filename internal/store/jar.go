package store

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"
)

const cookieWriteTimeout = 5 * time.Second

// CookieStore is the subset of Repository used by Jar.
type CookieStore interface {
	LoadCookies(ctx context.Context) ([]Cookie, error)
	SaveCookie(ctx context.Context, c Cookie) error
	DeleteCookie(ctx context.Context, origin, name, path string) error
	DeleteCookies(ctx context.Context) error
}

// Jar is an http.CookieJar that writes through to the repository so the
// refresh credential survives a restart.
type Jar struct {
	mu     sync.RWMutex
	jar    *cookiejar.Jar
	resets uint64
	repo   CookieStore
	logger *slog.Logger
}

// NewJar builds a jar and loads every unexpired stored cookie into it.
func NewJar(ctx context.Context, repo CookieStore, logger *slog.Logger) (*Jar, error) {
	if logger == nil {
		logger = slog.Default()
	}
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	stored, err := repo.LoadCookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cookies: %w", err)
	}
	for _, c := range stored {
		u, err := url.Parse(c.Origin)
		if err != nil {
			logger.Warn("Skipping stored cookie with bad origin", "origin", c.Origin, "error", err)
			continue
		}
		inner.SetCookies(u, []*http.Cookie{toHTTPCookie(c)})
	}
	logger.Info("Cookie jar loaded", "cookies", len(stored))

	return &Jar{jar: inner, repo: repo, logger: logger}, nil
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jar.Cookies(u)
}

// SetCookies implements http.CookieJar. Persistence failures are logged; the
// in-memory jar is always updated.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.setCookiesLocked(u, cookies)
}

// Generation counts resets. Read it before sending a request and pass it to
// SetCookiesSince with the response's cookies.
func (j *Jar) Generation() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.resets
}

// SetCookiesSince stores cookies only if the jar was not reset after gen was
// read. It reports whether they were stored.
func (j *Jar) SetCookiesSince(gen uint64, u *url.URL, cookies []*http.Cookie) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.resets != gen {
		return false
	}
	j.setCookiesLocked(u, cookies)
	return true
}

// Wrap returns a round tripper that sends the jar's cookies with each request
// through next and stores the cookies of the response. A response to a
// request sent before a Reset is not stored, so a refresh landing after
// logout cannot bring the credential back.
func (j *Jar) Wrap(next http.RoundTripper) http.RoundTripper {
	return &jarTransport{jar: j, next: next}
}

type jarTransport struct {
	jar  *Jar
	next http.RoundTripper
}

func (t *jarTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	gen := t.jar.Generation()
	out := req.Clone(req.Context())
	for _, c := range t.jar.Cookies(req.URL) {
		out.AddCookie(c)
	}

	resp, err := t.next.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if cookies := resp.Cookies(); len(cookies) > 0 {
		if !t.jar.SetCookiesSince(gen, req.URL, cookies) {
			t.jar.logger.Info("Dropping cookies from a response sent before logout", "path", req.URL.Path)
		}
	}
	return resp, nil
}

func (j *Jar) setCookiesLocked(u *url.URL, cookies []*http.Cookie) {
	j.jar.SetCookies(u, cookies)

	ctx, cancel := context.WithTimeout(context.Background(), cookieWriteTimeout)
	defer cancel()

	origin := originOf(u)
	now := time.Now()
	for _, hc := range cookies {
		c := fromHTTPCookie(origin, hc, now)
		var err error
		if hc.MaxAge < 0 || (!c.Expires.IsZero() && !c.Expires.After(now)) {
			err = j.repo.DeleteCookie(ctx, c.Origin, c.Name, c.Path)
		} else {
			err = j.repo.SaveCookie(ctx, c)
		}
		if err != nil {
			j.logger.Warn("Failed to persist cookie", "name", hc.Name, "error", err)
		}
	}
}

// Reset drops every cookie, in memory and on disk.
func (j *Jar) Reset(ctx context.Context) error {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("create cookie jar: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jar = inner
	j.resets++

	if err := j.repo.DeleteCookies(ctx); err != nil {
		return fmt.Errorf("reset cookie jar: %w", err)
	}
	return nil
}

func originOf(u *url.URL) string {
	return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
}

func fromHTTPCookie(origin string, hc *http.Cookie, now time.Time) Cookie {
	c := Cookie{
		Origin:   origin,
		Name:     hc.Name,
		Value:    hc.Value,
		Path:     hc.Path,
		Domain:   hc.Domain,
		Expires:  hc.Expires,
		Secure:   hc.Secure,
		HTTPOnly: hc.HttpOnly,
		SameSite: int(hc.SameSite),
	}
	if hc.MaxAge > 0 {
		c.Expires = now.Add(time.Duration(hc.MaxAge) * time.Second)
	}
	return c
}

func toHTTPCookie(c Cookie) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
		SameSite: http.SameSite(c.SameSite),
	}
}
