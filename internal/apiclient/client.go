// Package apiclient talks to the remote SkillSync REST API on behalf of the
// BFF session.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// Remote endpoints.
const (
	pathRegister       = "/accounts/register/"
	pathLogin          = "/accounts/login/"
	pathLogout         = "/accounts/logout/"
	pathRefresh        = "/accounts/refresh/"
	pathProfile        = "/accounts/profile/"
	pathImageKitAuth   = "/accounts/imagekit-auth/"
	pathForgotPassword = "/accounts/forgot-password/"
	pathVerifyOTP      = "/accounts/verify-otp/"
	pathResetPassword  = "/accounts/reset-password/"
	pathPosts          = "/posts/"
	pathExplore        = "/posts/explore/"
	pathFollowing      = "/posts/following/"
	pathSearch         = "/search/"
	pathChat           = "/ai/freezy/"

	defaultStreamPath = "/api/ai/freezy/stream/"
)

// CookieJar keeps the remote API's cookies, the refresh credential among them.
// Wrap attaches them to requests sent through next and stores the cookies
// responses set.
type CookieJar interface {
	Wrap(next http.RoundTripper) http.RoundTripper
}

// Options configures the clients.
type Options struct {
	BaseURL      string
	AIStreamPath string
	Timeout      time.Duration
	RateLimit    float64
	RateBurst    int
	Jar          CookieJar
	ImageKit     ImageKitOptions
	Logger       *slog.Logger
	// Transport is the innermost round tripper; http.DefaultTransport when nil.
	Transport http.RoundTripper
}

func (o Options) withDefaults() Options {
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.AIStreamPath == "" {
		o.AIStreamPath = defaultStreamPath
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 10
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 50
	}
	if o.ImageKit.UploadURL == "" {
		o.ImageKit.UploadURL = "https://upload.imagekit.io/api/v1/files/upload"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Transport == nil {
		o.Transport = http.DefaultTransport
	}
	return o
}

// apiTransport is the traced transport for calls to the remote API. Only these
// carry the jar's cookies.
func (o Options) apiTransport() http.RoundTripper {
	rt := o.Transport
	if o.Jar != nil {
		rt = o.Jar.Wrap(rt)
	}
	return otelhttp.NewTransport(rt)
}

// ImageKitOptions are the public ImageKit upload settings.
type ImageKitOptions struct {
	PublicKey string
	UploadURL string
}

// requester holds what every call needs: base URL, HTTP client and limiter.
type requester struct {
	base    *url.URL
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newRequester(o Options, rt http.RoundTripper, timeout time.Duration) *requester {
	base, _ := url.Parse(o.BaseURL)
	return &requester{
		base:    base,
		baseURL: o.BaseURL,
		http:    &http.Client{Transport: rt, Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(o.RateLimit), o.RateBurst),
		logger:  o.Logger,
	}
}

func (r *requester) url(pathOrURL string) string {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return pathOrURL
	}
	return r.baseURL + pathOrURL
}

func (r *requester) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

// send waits for the limiter, performs req and turns non-2xx answers into
// *APIError. The caller owns the returned body.
func (r *requester) send(req *http.Request) (*http.Response, error) {
	return r.sendWith(r.http, req)
}

func (r *requester) sendWith(hc *http.Client, req *http.Request) (*http.Response, error) {
	if err := r.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	r.logger.Debug("API call",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
		"request_id", req.Header.Get("X-Request-ID"),
	)

	if resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{
			Method: req.Method,
			Path:   req.URL.Path,
			Status: resp.StatusCode,
			Detail: detailFrom(body),
		}
	}
	return resp, nil
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
func (r *requester) do(ctx context.Context, method, path string, in, out any) error {
	req, err := r.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	return r.decode(req, out)
}

// decode sends req and decodes the JSON response into out when non-nil.
func (r *requester) decode(req *http.Request, out any) error {
	resp, err := r.send(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// Credentials is what the authenticated client needs from the session.
type Credentials interface {
	Authorize(req *http.Request)
	HandleUnauthorized(ctx context.Context, staleToken string) (string, error)
}

// Client is the authenticated API client. Every request carries the session's
// bearer token and is retried once after a refresh on 401.
type Client struct {
	*requester
	stream     *http.Client
	streamPath string
	uploadHTTP *http.Client
	imagekit   ImageKitOptions
}

// New creates the authenticated client.
func New(opts Options, creds Credentials) *Client {
	o := opts.withDefaults()
	auth := &authTransport{base: o.apiTransport(), creds: creds, logger: o.Logger}

	r := newRequester(o, auth, o.Timeout)
	return &Client{
		requester:  r,
		stream:     &http.Client{Transport: auth},
		streamPath: o.AIStreamPath,
		uploadHTTP: &http.Client{Transport: otelhttp.NewTransport(o.Transport), Timeout: 2 * o.Timeout},
		imagekit:   o.ImageKit,
	}
}

// AuthAPI performs the unauthenticated account calls. It never goes through
// the retrying transport, so a failing refresh cannot recurse.
type AuthAPI struct {
	*requester
}

// NewAuthAPI creates the client for login, refresh, logout and sign-up.
func NewAuthAPI(opts Options) *AuthAPI {
	o := opts.withDefaults()
	return &AuthAPI{requester: newRequester(o, o.apiTransport(), o.Timeout)}
}
