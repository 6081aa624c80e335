package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/dejobratic/orderwatch/internal/orderstatus/domain"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config captures runtime configuration for the order watcher.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Push      PushConfig      `yaml:"push"`
	Polling   PollingConfig   `yaml:"polling"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Service   ServiceConfig   `yaml:"service"`
}

type APIConfig struct {
	BaseURL        string        `yaml:"base_url" env:"ORDERWATCH_API_URL"`
	Token          string        `yaml:"token" env:"ORDERWATCH_API_TOKEN"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"ORDERWATCH_API_REQUEST_TIMEOUT" env-default:"10s"`
	// Requests per second; 0 disables client-side throttling.
	RateLimit float64 `yaml:"rate_limit" env:"ORDERWATCH_API_RATE_LIMIT" env-default:"0"`
	RateBurst int     `yaml:"rate_burst" env:"ORDERWATCH_API_RATE_BURST" env-default:"1"`
	// Extra lookup parameters, "key:value,key2:value2".
	Query map[string]string `yaml:"query" env:"ORDERWATCH_API_QUERY"`
}

type PushConfig struct {
	Enabled        bool              `yaml:"enabled" env:"ORDERWATCH_PUSH_ENABLED" env-default:"true"`
	URL            string            `yaml:"url" env:"ORDERWATCH_PUSH_URL"`
	Query          map[string]string `yaml:"query" env:"ORDERWATCH_PUSH_QUERY"`
	PingInterval   time.Duration     `yaml:"ping_interval" env:"ORDERWATCH_PUSH_PING_INTERVAL" env-default:"20s"`
	InitialBackoff time.Duration     `yaml:"initial_backoff" env:"ORDERWATCH_PUSH_INITIAL_BACKOFF" env-default:"500ms"`
	MaxBackoff     time.Duration     `yaml:"max_backoff" env:"ORDERWATCH_PUSH_MAX_BACKOFF" env-default:"30s"`
}

type PollingConfig struct {
	Interval      time.Duration `yaml:"interval" env:"ORDERWATCH_POLL_INTERVAL" env-default:"10s"`
	RetryInterval time.Duration `yaml:"retry_interval" env:"ORDERWATCH_POLL_RETRY_INTERVAL" env-default:"2s"`
	MaxRetries    int           `yaml:"max_retries" env:"ORDERWATCH_POLL_MAX_RETRIES" env-default:"5"`
}

type MonitorConfig struct {
	FailoverOnDecodeError bool   `yaml:"failover_on_decode_error" env:"ORDERWATCH_FAILOVER_ON_DECODE_ERROR" env-default:"false"`
	UnknownStatusPolicy   string `yaml:"unknown_status_policy" env:"ORDERWATCH_UNKNOWN_STATUS_POLICY" env-default:"reject"`
	// Upper bound for one watch; 0 waits until a terminal status.
	Timeout time.Duration `yaml:"timeout" env:"ORDERWATCH_TIMEOUT" env-default:"0s"`
}

type TelemetryConfig struct {
	LogLevel      string  `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	OTelEndpoint  string  `yaml:"otel_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure  bool    `yaml:"otel_insecure" env:"OTEL_EXPORTER_OTLP_INSECURE" env-default:"false"`
	EnableTracing bool    `yaml:"enable_tracing" env:"OTEL_ENABLE_TRACING" env-default:"false"`
	EnableMetrics bool    `yaml:"enable_metrics" env:"OTEL_ENABLE_METRICS" env-default:"false"`
	SampleRate    float64 `yaml:"sample_rate" env:"OTEL_SAMPLE_RATE" env-default:"1.0"`
}

type ServiceConfig struct {
	Name        string `yaml:"name" env:"ORDERWATCH_SERVICE_NAME" env-default:"orderwatch"`
	Version     string `yaml:"version" env:"SERVICE_VERSION" env-default:"0.1.0"`
	Environment string `yaml:"environment" env:"ENVIRONMENT" env-default:"development"`
}

// Load reads configuration from environment variables, applying defaults when needed.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads a YAML or JSON file; environment variables override it.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validateURL(c.API.BaseURL, "http", "https"); err != nil {
		return fmt.Errorf("%w: api base url: %w", ErrInvalidConfig, err)
	}
	if c.API.RequestTimeout < 0 {
		return fmt.Errorf("%w: api request timeout must not be negative", ErrInvalidConfig)
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("%w: api rate limit must not be negative", ErrInvalidConfig)
	}
	if c.API.RateLimit > 0 && c.API.RateBurst < 1 {
		return fmt.Errorf("%w: api rate burst must be at least 1", ErrInvalidConfig)
	}

	if c.Push.Enabled {
		if err := validateURL(c.Push.URL, "ws", "wss", "http", "https"); err != nil {
			return fmt.Errorf("%w: push url: %w", ErrInvalidConfig, err)
		}
	}

	if c.Polling.Interval <= 0 || c.Polling.RetryInterval <= 0 {
		return fmt.Errorf("%w: poll intervals must be positive", ErrInvalidConfig)
	}
	if c.Polling.MaxRetries < 1 {
		return fmt.Errorf("%w: max retries must be at least 1", ErrInvalidConfig)
	}

	if _, err := domain.ParseStatusPolicy(c.Monitor.UnknownStatusPolicy); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Monitor.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidConfig)
	}

	return nil
}

// StatusPolicy returns the parsed unknown-status policy. Call after Validate.
func (c *Config) StatusPolicy() domain.StatusPolicy {
	p, _ := domain.ParseStatusPolicy(c.Monitor.UnknownStatusPolicy)
	return p
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("unsupported url %q", raw)
}
