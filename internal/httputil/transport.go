package httputil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/quay/zlog"
)

// UserAgent identifies the pipeline on every outbound request.
const UserAgent = `SOFA/2.0 (github.com/macadmins/sofa)`

// DefaultTimeout bounds every request end to end.
const DefaultTimeout = 30 * time.Second

// RetryTransport retries transient failures with exponential backoff.
// A 4xx response is never retried; the caller gets it as-is.
type RetryTransport struct {
	// Next is the wrapped RoundTripper, http.DefaultTransport when
	// nil.
	Next http.RoundTripper
	// Attempts is the total try count, default 3.
	Attempts int
	// Backoff is the first retry delay, doubled per retry. Default
	// 1 s.
	Backoff time.Duration
}

var _ http.RoundTripper = (*RetryTransport)(nil)

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.Next
	if next == nil {
		next = http.DefaultTransport
	}
	attempts := t.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := t.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", UserAgent)
	}

	ctx := req.Context()
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			// Retrying requires a replayable body.
			if req.Body != nil && req.GetBody == nil {
				return nil, lastErr
			}
			if req.GetBody != nil {
				b, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				req.Body = b
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff << (i - 1)):
			}
			zlog.Debug(ctx).
				Str("url", req.URL.String()).
				Int("attempt", i+1).
				Msg("retrying request")
		}
		resp, err := next.RoundTrip(req)
		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = err
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("unexpected status code: %s", resp.Status)
			resp.Body.Close()
			continue
		default:
			return resp, nil
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

// NewClient builds the shared pipeline client: retrying transport,
// stable User-Agent, bounded per-request timeout.
func NewClient() *http.Client {
	return &http.Client{
		Transport: &RetryTransport{},
		Timeout:   DefaultTimeout,
	}
}
