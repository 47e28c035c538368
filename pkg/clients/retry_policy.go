package clients

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/airsync/pkg/config"
)

// RetryPolicy defines the retry budget and backoff of the platform transport
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// NewRetryPolicy creates a retry policy from the reliability configuration
func NewRetryPolicy(cfg config.ReliabilityConfig) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryDelay,
		MaxDelay:   cfg.MaxRetryDelay,
	}
}

// DefaultRetryPolicy returns 5 retries with 2^n seconds backoff capped at one minute
func DefaultRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(config.Default().Reliability)
}

// Backoff returns min(2^retry × BaseDelay, MaxDelay) for the 1-based retry number.
func (rp *RetryPolicy) Backoff(retry int) time.Duration {
	delay := float64(rp.BaseDelay) * math.Pow(2, float64(retry))
	if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}
	return time.Duration(delay)
}

// RetryAfter parses the Retry-After header as a non-negative number of seconds.
// HTTP dates and malformed values are rejected.
func RetryAfter(h http.Header) (time.Duration, bool) {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}
