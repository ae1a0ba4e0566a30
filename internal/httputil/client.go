// Package httputil holds the shared HTTP client configuration for
// outbound feed calls.
package httputil

import (
	"net/http"
	"time"
)

const userAgent = "nexus-forecast/1.0"

// DefaultTimeout bounds a single warehouse request. Retries on top of
// this are the caller's concern.
const DefaultTimeout = 30 * time.Second

// NewClient returns an HTTP client with the standard timeout and
// User-Agent applied to every request.
func NewClient() *http.Client {
	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: &userAgentTransport{base: http.DefaultTransport},
	}
}

type userAgentTransport struct {
	base http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", userAgent)
	}
	return t.base.RoundTrip(req)
}
