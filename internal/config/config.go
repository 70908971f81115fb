// Package config provides hierarchical configuration loading for hitl.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the hitl server.
type Config struct {
	Server      Server      `yaml:"server"`
	MCP         MCP         `yaml:"mcp"`
	Logging     Logging     `yaml:"logging"`
	Fanout      Fanout      `yaml:"fanout"`
	NATS        NATS        `yaml:"nats"`
	Postgres    Postgres    `yaml:"postgres"`
	Breaker     Breaker     `yaml:"breaker"`
	Rate        Rate        `yaml:"rate"`
	Idempotency Idempotency `yaml:"idempotency"`
	Cache       Cache       `yaml:"cache"`
	OTEL        OTEL        `yaml:"otel"`
	Slack       Slack       `yaml:"slack"`
	Discord     Discord     `yaml:"discord"`
	Email       Email       `yaml:"email"`
	Policy      Policy      `yaml:"policy"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port            string        `yaml:"port"`
	CORSOrigin      string        `yaml:"cors_origin"`
	UIURL           string        `yaml:"ui_url"`     // linked from notifications
	BodyLimit       int64         `yaml:"body_limit"` // max request body in bytes
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MCP holds the agent-facing Model Context Protocol listener.
type MCP struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level        string `yaml:"level"`
	Service      string `yaml:"service"`
	Format       string `yaml:"format"` // "json" | "text" | "auto"
	Async        bool   `yaml:"async"`
	AsyncBuffer  int    `yaml:"async_buffer"`
	AsyncWorkers int    `yaml:"async_workers"`
}

// Fanout holds per-observer delivery limits.
type Fanout struct {
	QueueSize   int           `yaml:"queue_size"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// NATS holds NATS JetStream configuration. An empty URL disables the bus.
type NATS struct {
	URL          string        `yaml:"url"`
	MaxRetries   int           `yaml:"max_retries"`
	StreamMaxAge time.Duration `yaml:"stream_max_age"`
	Mirror       bool          `yaml:"mirror"`   // publish observer events
	Resolver     bool          `yaml:"resolver"` // accept resolutions from the bus
}

// Postgres holds the audit archive connection. An empty DSN disables it.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// Breaker holds circuit breaker configuration for external services.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Rate holds rate limiter configuration.
type Rate struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// Idempotency holds replay protection for resolution POSTs.
type Idempotency struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// Cache holds the tiered cache backing idempotency.
type Cache struct {
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"`
	L2Bucket    string        `yaml:"l2_bucket"`
	L2TTL       time.Duration `yaml:"l2_ttl"`
}

// OTEL holds OpenTelemetry export configuration.
type OTEL struct {
	Enabled        bool          `yaml:"enabled"`
	Endpoint       string        `yaml:"endpoint"`
	Insecure       bool          `yaml:"insecure"`
	ServiceName    string        `yaml:"service_name"`
	SampleRate     float64       `yaml:"sample_rate"`
	MetricInterval time.Duration `yaml:"metric_interval"`
}

// Slack holds the incoming webhook for approval notifications. Empty disables.
type Slack struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Discord holds the webhook for approval notifications. Empty disables.
type Discord struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Email holds the SMTP relay for approval notifications. An empty Host
// disables it.
type Email struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	From     string   `yaml:"from"`
	Password string   `yaml:"password"`
	To       []string `yaml:"to"`
}

// Policy points at an optional YAML profile overriding tool approval policies.
type Policy struct {
	File string `yaml:"file"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:            "8000",
			CORSOrigin:      "http://localhost:3000",
			BodyLimit:       1 << 20,
			ShutdownTimeout: 15 * time.Second,
		},
		MCP: MCP{
			Enabled: true,
			Addr:    ":8001",
			Path:    "/mcp",
		},
		Logging: Logging{
			Level:        "info",
			Service:      "hitl",
			Format:       "auto",
			AsyncBuffer:  10000,
			AsyncWorkers: 4,
		},
		Fanout: Fanout{
			QueueSize:   64,
			SendTimeout: 10 * time.Second,
		},
		NATS: NATS{
			MaxRetries:   3,
			StreamMaxAge: 24 * time.Hour,
			Mirror:       true,
			Resolver:     true,
		},
		Postgres: Postgres{
			MaxConns:        5,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
			AutoMigrate:     true,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Rate: Rate{
			Enabled:           true,
			RequestsPerSecond: 20,
			Burst:             100,
			CleanupInterval:   5 * time.Minute,
			MaxIdleTime:       10 * time.Minute,
		},
		Idempotency: Idempotency{
			Enabled: true,
			TTL:     10 * time.Minute,
		},
		Cache: Cache{
			L1MaxSizeMB: 16,
			L2Bucket:    "HITL_IDEMPOTENCY",
			L2TTL:       10 * time.Minute,
		},
		OTEL: OTEL{
			Endpoint:       "localhost:4317",
			Insecure:       true,
			ServiceName:    "hitl",
			SampleRate:     1.0,
			MetricInterval: 30 * time.Second,
		},
		Email: Email{
			Port: 587,
		},
	}
}
