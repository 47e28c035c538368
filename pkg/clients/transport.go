package clients

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/metrics"
)

type noRetryKey struct{}

// WithoutRetry marks requests made with ctx as single attempt. Streaming uploads use it
// because their bodies cannot be replayed.
func WithoutRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRetryKey{}, true)
}

func retryDisabled(ctx context.Context) bool {
	v, _ := ctx.Value(noRetryKey{}).(bool)
	return v
}

// RetryTransport is an http.RoundTripper that retries transport errors and 5xx
// responses with exponential backoff, and 429 responses only when the server
// sends a usable Retry-After header.
type RetryTransport struct {
	base           http.RoundTripper
	policy         *RetryPolicy
	logger         *zap.Logger
	attemptTimeout time.Duration
	maxReplayBytes int64
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewRetryTransport wraps base with the retry policy
func NewRetryTransport(base http.RoundTripper, policy *RetryPolicy, logger *zap.Logger) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	return &RetryTransport{
		base:           base,
		policy:         policy,
		logger:         logger.With(zap.String("component", "retry_transport")),
		maxReplayBytes: 8 << 20,
		sleep:          sleepContext,
	}
}

// WithAttemptTimeout bounds every single attempt
func (t *RetryTransport) WithAttemptTimeout(d time.Duration) *RetryTransport {
	t.attemptTimeout = d
	return t
}

// WithMaxReplayBytes sets how much of a body without GetBody is buffered for replay
func (t *RetryTransport) WithMaxReplayBytes(n int64) *RetryTransport {
	t.maxReplayBytes = n
	return t
}

type retryDecision struct {
	retry  bool
	delay  time.Duration
	reason string
}

// RoundTrip implements http.RoundTripper
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if retryDisabled(ctx) {
		return t.attempt(req)
	}

	getBody, replayable, err := t.replayableBody(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to buffer request body")
	}

	ownBody := req.GetBody == nil
	for retry := 0; ; retry++ {
		attemptReq := req
		if getBody != nil && (retry > 0 || ownBody) {
			attemptReq = req.Clone(ctx)
			body, err := getBody()
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to rewind request body")
			}
			attemptReq.Body = body
		}

		resp, err := t.attempt(attemptReq)

		decision := t.decide(ctx, resp, err, retry+1, replayable)
		if !decision.retry {
			return resp, err
		}
		if retry >= t.policy.MaxRetries {
			t.logExhausted(req, resp, err, retry)
			if err != nil {
				return nil, errors.Wrapf(err, errors.ErrorTypeConnection, "request failed after %d retries", retry)
			}
			return resp, nil
		}

		metrics.HTTPRetries.WithLabelValues(decision.reason).Inc()
		t.logger.Warn("retrying request",
			zap.String("method", req.Method),
			zap.String("url", redactURL(req)),
			zap.Int("retry", retry+1),
			zap.Duration("delay", decision.delay),
			zap.String("reason", decision.reason))

		if resp != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
		}

		if err := t.sleep(ctx, decision.delay); err != nil {
			return nil, err
		}
	}
}

func (t *RetryTransport) attempt(req *http.Request) (*http.Response, error) {
	timer := metrics.NewTimer()
	var cancel context.CancelFunc
	if t.attemptTimeout > 0 && !retryDisabled(req.Context()) {
		var ctx context.Context
		ctx, cancel = context.WithTimeout(req.Context(), t.attemptTimeout)
		req = req.WithContext(ctx)
	}

	resp, err := t.base.RoundTrip(req)
	metrics.HTTPLatency.WithLabelValues(req.Method).Observe(timer.Stop().Seconds())

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	metrics.HTTPRequests.WithLabelValues(req.Method, metrics.StatusClass(status)).Inc()

	if cancel != nil {
		if err != nil || resp == nil {
			cancel()
		} else {
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		}
	}
	return resp, err
}

func (t *RetryTransport) decide(ctx context.Context, resp *http.Response, err error, retry int, replayable bool) retryDecision {
	if err != nil {
		if ctx.Err() != nil || !replayable {
			return retryDecision{}
		}
		return retryDecision{retry: true, delay: t.policy.Backoff(retry), reason: "network"}
	}

	switch {
	case resp.StatusCode >= 500:
		if !replayable {
			return retryDecision{}
		}
		return retryDecision{retry: true, delay: t.policy.Backoff(retry), reason: "server_error"}
	case resp.StatusCode == http.StatusTooManyRequests:
		delay, ok := RetryAfter(resp.Header)
		if !ok || !replayable {
			return retryDecision{}
		}
		return retryDecision{retry: true, delay: delay, reason: "rate_limited"}
	default:
		return retryDecision{}
	}
}

// replayableBody returns a body factory for retries. Requests with a body larger than
// maxReplayBytes and no GetBody are sent once.
func (t *RetryTransport) replayableBody(req *http.Request) (func() (io.ReadCloser, error), bool, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, true, nil
	}
	if req.GetBody != nil {
		return req.GetBody, true, nil
	}
	if req.ContentLength > t.maxReplayBytes {
		return nil, false, nil
	}

	buf, err := io.ReadAll(io.LimitReader(req.Body, t.maxReplayBytes+1))
	if err != nil {
		req.Body.Close()
		return nil, false, err
	}
	if int64(len(buf)) > t.maxReplayBytes {
		rest := req.Body
		return func() (io.ReadCloser, error) {
			return struct {
				io.Reader
				io.Closer
			}{io.MultiReader(bytes.NewReader(buf), rest), rest}, nil
		}, false, nil
	}
	req.Body.Close()
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}, true, nil
}

// logExhausted logs the failed request with credentials removed.
func (t *RetryTransport) logExhausted(req *http.Request, resp *http.Response, err error, retries int) {
	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("url", redactURL(req)),
		zap.Any("headers", SanitizeHeaders(req.Header)),
		zap.Int("retries", retries),
	}
	if resp != nil {
		fields = append(fields, zap.Int("status", resp.StatusCode))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	t.logger.Error("request failed after max retries", fields...)
}

// SanitizeHeaders returns a copy of h without credentials
func SanitizeHeaders(h http.Header) http.Header {
	clean := h.Clone()
	if clean == nil {
		clean = http.Header{}
	}
	clean.Del("Authorization")
	clean.Del("Proxy-Authorization")
	clean.Del("Cookie")
	return clean
}

func redactURL(req *http.Request) string {
	if req.URL == nil {
		return ""
	}
	return req.URL.Redacted()
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
