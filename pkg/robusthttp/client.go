// Package robusthttp provides the HTTP client used for the console's network
// fetches: identity resolution, service configuration, and proxied probes.
package robusthttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type LeveledSlog struct {
	inner *slog.Logger
}

// re-writes HTTP client ERROR to WARN level (because of retries)
func (l LeveledSlog) Error(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Warn(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Info(msg string, keysAndValues ...any) {
	l.inner.Info(msg, keysAndValues...)
}

func (l LeveledSlog) Debug(msg string, keysAndValues ...any) {
	l.inner.Debug(msg, keysAndValues...)
}

// NewClient returns a stdlib *http.Client which retries connection errors and
// 5xx responses with backoff, internally using Hashicorp retryablehttp.
//
// Authorization failures (401, 403) and rate-limiting (429) are never
// retried: callers classify those, and retrying them would only delay the
// classification. Intermediate failures are logged at WARN level.
func NewClient(logger *slog.Logger) *http.Client {
	if logger == nil {
		logger = slog.Default()
	}
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = otelhttp.NewTransport(cleanhttp.DefaultPooledTransport())
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(LeveledSlog{inner: logger.With("subsystem", "RobustHTTPClient")})
	retryClient.CheckRetry = RetryPolicy

	client := retryClient.StandardClient()
	client.Timeout = 30 * time.Second
	return client
}

// For use in local integration tests. Short timeouts, no retries, etc
func TestingHTTPClient() *http.Client {
	return &http.Client{Timeout: 1 * time.Second}
}

// RetryPolicy wraps retryablehttp.DefaultRetryPolicy, treating 401, 403, and
// 429 as non-retryable so the application decides how to deal with them.
func RetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
			return false, nil
		}
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
