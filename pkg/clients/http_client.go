// Package clients provides the HTTP client every platform call goes through
package clients

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/ajitpratap0/airsync/pkg/config"
)

// HTTPClient owns the pooled transport and the retry layer on top of it
type HTTPClient struct {
	config     config.HTTPConfig
	logger     *zap.Logger
	transport  *http.Transport
	retry      *RetryTransport
	httpClient *http.Client
}

// NewHTTPClient creates the platform client. Timeouts apply per attempt so that
// backoff waits do not consume the request budget.
func NewHTTPClient(cfg config.HTTPConfig, policy *RetryPolicy, logger *zap.Logger) *HTTPClient {
	client := &HTTPClient{
		config: cfg,
		logger: logger.With(zap.String("component", "http_client")),
	}

	client.transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if cfg.EnableHTTP2 {
		if err := http2.ConfigureTransport(client.transport); err != nil {
			client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	client.retry = NewRetryTransport(client.transport, policy, logger).
		WithAttemptTimeout(cfg.RequestTimeout)
	if cfg.MaxReplayBodyBytes > 0 {
		client.retry.WithMaxReplayBytes(cfg.MaxReplayBodyBytes)
	}

	client.httpClient = &http.Client{
		Transport: client.retry,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	return client
}

// Client returns the retrying *http.Client
func (c *HTTPClient) Client() *http.Client {
	return c.httpClient
}

// Do performs an HTTP request through the retry layer
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// Close releases idle connections
func (c *HTTPClient) Close() {
	c.transport.CloseIdleConnections()
}
