package apiclient

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// authTransport attaches the session token and, on a 401, asks the session
// for a fresh token and re-issues the request exactly once.
type authTransport struct {
	base   http.RoundTripper
	creds  Credentials
	logger *slog.Logger
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	first := req.Clone(req.Context())
	t.creds.Authorize(first)
	stale := bearerToken(first)

	resp, err := t.base.RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if isRefreshCall(req) {
		return resp, nil
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		// Body already consumed and cannot be replayed.
		return resp, nil
	}

	token, rerr := t.creds.HandleUnauthorized(req.Context(), stale)
	if rerr != nil {
		t.logger.Debug("Refresh after 401 failed", "path", req.URL.Path, "error", rerr)
		return resp, nil
	}

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+token)

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()

	// The retry goes straight to base: a second 401 is final.
	return t.base.RoundTrip(retry)
}

func bearerToken(req *http.Request) string {
	return strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
}

func isRefreshCall(req *http.Request) bool {
	return strings.HasSuffix(req.URL.Path, pathRefresh)
}
