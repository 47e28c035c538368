// Package config provides the configuration of the airsync worker runtime.
//
// The configuration is organized into logical sections:
//   - Worker: invocation deadlines and local development switches
//   - Batching: repo batch size and attachment stream concurrency
//   - Reliability: retry budget of the platform transport
//   - HTTP: connection settings of the platform transport
//   - Logging, Observability: zap, Prometheus and tracing settings
//   - Mirror: optional copy of every uploaded artifact for local development
//
// Example usage:
//
//	cfg, err := config.Load("airsync.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.Batching.RepoBatchSize = 500
package config

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/logger"
)

const (
	// DefaultTimeout is the ceiling for one invocation
	DefaultTimeout = 10 * time.Minute
	// DefaultHardTimeoutMultiplier scales the soft deadline into the forced termination deadline
	DefaultHardTimeoutMultiplier = 1.3
	// DefaultRepoBatchSize is the number of records per uploaded artifact
	DefaultRepoBatchSize = 2000
	// MaxAttachmentStreams bounds attachment streaming concurrency
	MaxAttachmentStreams = 50
)

// Config is the complete runtime configuration.
type Config struct {
	Worker        WorkerConfig        `mapstructure:"worker" yaml:"worker" json:"worker"`
	Batching      BatchingConfig      `mapstructure:"batching" yaml:"batching" json:"batching"`
	Reliability   ReliabilityConfig   `mapstructure:"reliability" yaml:"reliability" json:"reliability"`
	HTTP          HTTPConfig          `mapstructure:"http" yaml:"http" json:"http"`
	Logging       logger.Config       `mapstructure:"logging" yaml:"logging" json:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability" json:"observability"`
	Mirror        MirrorConfig        `mapstructure:"mirror" yaml:"mirror" json:"mirror"`
}

// WorkerConfig bounds one invocation.
type WorkerConfig struct {
	// Timeout is the soft deadline; requested timeouts above it are clamped
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	// HardTimeoutMultiplier scales Timeout into the forced termination deadline
	HardTimeoutMultiplier float64 `mapstructure:"hard_timeout_multiplier" yaml:"hard_timeout_multiplier" json:"hard_timeout_multiplier"`
	// EmitDrainWindow is how long a forced termination waits for an emission already on the wire
	EmitDrainWindow time.Duration `mapstructure:"emit_drain_window" yaml:"emit_drain_window" json:"emit_drain_window"`
	// LocalDevelopment mirrors uploaded artifacts through Mirror
	LocalDevelopment bool `mapstructure:"local_development" yaml:"local_development" json:"local_development"`
}

// BatchingConfig sizes repo flushes and attachment streaming.
type BatchingConfig struct {
	RepoBatchSize     int `mapstructure:"repo_batch_size" yaml:"repo_batch_size" json:"repo_batch_size"`
	AttachmentStreams int `mapstructure:"attachment_streams" yaml:"attachment_streams" json:"attachment_streams"`
}

// ReliabilityConfig is the retry budget of the platform transport.
type ReliabilityConfig struct {
	MaxRetries    int           `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" json:"retry_delay"`
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay" yaml:"max_retry_delay" json:"max_retry_delay"`
}

// HTTPConfig configures the platform transport.
type HTTPConfig struct {
	RequestTimeout      time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" json:"request_timeout"`
	EnableHTTP2         bool          `mapstructure:"enable_http2" yaml:"enable_http2" json:"enable_http2"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host" yaml:"max_idle_conns_per_host" json:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout" json:"idle_conn_timeout"`
	MaxReplayBodyBytes  int64         `mapstructure:"max_replay_body_bytes" yaml:"max_replay_body_bytes" json:"max_replay_body_bytes"`
}

// ObservabilityConfig enables metrics and tracing.
type ObservabilityConfig struct {
	EnableMetrics bool   `mapstructure:"enable_metrics" yaml:"enable_metrics" json:"enable_metrics"`
	MetricsAddr   string `mapstructure:"metrics_addr" yaml:"metrics_addr" json:"metrics_addr"`
	EnableTracing bool   `mapstructure:"enable_tracing" yaml:"enable_tracing" json:"enable_tracing"`
	ServiceName   string `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
}

// MirrorConfig points at a location receiving a copy of every uploaded artifact.
// URL schemes: file://, s3://bucket/prefix, gs://bucket/prefix.
type MirrorConfig struct {
	URL             string `mapstructure:"url" yaml:"url" json:"url"`
	Region          string `mapstructure:"region" yaml:"region" json:"region"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file" json:"credentials_file"`
}

// Default returns the runtime defaults.
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			Timeout:               DefaultTimeout,
			HardTimeoutMultiplier: DefaultHardTimeoutMultiplier,
			EmitDrainWindow:       5 * time.Second,
		},
		Batching: BatchingConfig{
			RepoBatchSize:     DefaultRepoBatchSize,
			AttachmentStreams: 1,
		},
		Reliability: ReliabilityConfig{
			MaxRetries:    5,
			RetryDelay:    time.Second,
			MaxRetryDelay: 60 * time.Second,
		},
		HTTP: HTTPConfig{
			RequestTimeout:      60 * time.Second,
			EnableHTTP2:         true,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			MaxReplayBodyBytes:  8 << 20,
		},
		Logging: logger.DefaultConfig(),
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			ServiceName: "airsync",
		},
	}
}

// Validate checks that the configuration can drive a worker.
func (c *Config) Validate() error {
	if c.Worker.Timeout <= 0 {
		return errors.New(errors.ErrorTypeConfig, "worker.timeout must be positive")
	}
	if c.Worker.HardTimeoutMultiplier < 1 {
		return errors.New(errors.ErrorTypeConfig, "worker.hard_timeout_multiplier must be at least 1")
	}
	if c.Worker.EmitDrainWindow < 0 {
		return errors.New(errors.ErrorTypeConfig, "worker.emit_drain_window must not be negative")
	}
	if c.Batching.RepoBatchSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "batching.repo_batch_size must be positive")
	}
	if c.Batching.AttachmentStreams < 1 || c.Batching.AttachmentStreams > MaxAttachmentStreams {
		return errors.Newf(errors.ErrorTypeConfig, "batching.attachment_streams must be between 1 and %d", MaxAttachmentStreams)
	}
	if c.Reliability.MaxRetries < 0 {
		return errors.New(errors.ErrorTypeConfig, "reliability.max_retries must not be negative")
	}
	if c.Reliability.RetryDelay <= 0 || c.Reliability.MaxRetryDelay < c.Reliability.RetryDelay {
		return errors.New(errors.ErrorTypeConfig, "reliability.retry_delay must be positive and not exceed max_retry_delay")
	}
	if c.HTTP.RequestTimeout <= 0 {
		return errors.New(errors.ErrorTypeConfig, "http.request_timeout must be positive")
	}
	if c.Worker.LocalDevelopment && c.Mirror.URL == "" {
		return errors.New(errors.ErrorTypeConfig, "mirror.url is required in local development")
	}
	return nil
}

// HardTimeout returns the forced termination deadline for a soft deadline.
func (w WorkerConfig) HardTimeout(soft time.Duration) time.Duration {
	return time.Duration(float64(soft) * w.HardTimeoutMultiplier)
}

// SoftTimeout clamps a requested timeout to the configured ceiling. Zero selects the ceiling.
func (w WorkerConfig) SoftTimeout(requested time.Duration) time.Duration {
	if requested <= 0 || requested > w.Timeout {
		return w.Timeout
	}
	return requested
}

// String implements fmt.Stringer for log output.
func (c *Config) String() string {
	return fmt.Sprintf("timeout=%s hard_multiplier=%.2f repo_batch=%d streams=%d retries=%d",
		c.Worker.Timeout, c.Worker.HardTimeoutMultiplier, c.Batching.RepoBatchSize,
		c.Batching.AttachmentStreams, c.Reliability.MaxRetries)
}
