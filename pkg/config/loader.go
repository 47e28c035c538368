package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. AIRSYNC_WORKER_TIMEOUT.
const EnvPrefix = "AIRSYNC"

// Load reads the configuration from defaults, an optional YAML file and the environment,
// in increasing order of precedence. ${VAR} references in the file are expanded.
func Load(filePath string) (*Config, error) {
	v := NewViper()

	if filePath != "" {
		data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := v.ReadConfig(bytes.NewReader([]byte(substituteEnvVars(string(data))))); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper unmarshals and validates the configuration held by v.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewViper returns a viper instance with defaults and environment bindings registered.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// SetDefaults registers every key with its default so environment overrides apply to all of them.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("worker.timeout", d.Worker.Timeout)
	v.SetDefault("worker.hard_timeout_multiplier", d.Worker.HardTimeoutMultiplier)
	v.SetDefault("worker.emit_drain_window", d.Worker.EmitDrainWindow)
	v.SetDefault("worker.local_development", d.Worker.LocalDevelopment)

	v.SetDefault("batching.repo_batch_size", d.Batching.RepoBatchSize)
	v.SetDefault("batching.attachment_streams", d.Batching.AttachmentStreams)

	v.SetDefault("reliability.max_retries", d.Reliability.MaxRetries)
	v.SetDefault("reliability.retry_delay", d.Reliability.RetryDelay)
	v.SetDefault("reliability.max_retry_delay", d.Reliability.MaxRetryDelay)

	v.SetDefault("http.request_timeout", d.HTTP.RequestTimeout)
	v.SetDefault("http.enable_http2", d.HTTP.EnableHTTP2)
	v.SetDefault("http.max_idle_conns", d.HTTP.MaxIdleConns)
	v.SetDefault("http.max_idle_conns_per_host", d.HTTP.MaxIdleConnsPerHost)
	v.SetDefault("http.idle_conn_timeout", d.HTTP.IdleConnTimeout)
	v.SetDefault("http.max_replay_body_bytes", d.HTTP.MaxReplayBodyBytes)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
	v.SetDefault("logging.output_paths", d.Logging.OutputPaths)

	v.SetDefault("observability.enable_metrics", d.Observability.EnableMetrics)
	v.SetDefault("observability.metrics_addr", d.Observability.MetricsAddr)
	v.SetDefault("observability.enable_tracing", d.Observability.EnableTracing)
	v.SetDefault("observability.service_name", d.Observability.ServiceName)

	v.SetDefault("mirror.url", d.Mirror.URL)
	v.SetDefault("mirror.region", d.Mirror.Region)
	v.SetDefault("mirror.credentials_file", d.Mirror.CredentialsFile)
}

// Marshal renders the configuration as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return data, nil
}

// Save writes the configuration to a YAML file.
func Save(filePath string, cfg *Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filePath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
