package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "hitl.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(envOr("HITL_CONFIG", DefaultConfigFile))
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "HITL_PORT")
	setString(&cfg.Server.CORSOrigin, "HITL_CORS_ORIGIN")
	setString(&cfg.Server.UIURL, "HITL_UI_URL")
	setInt64(&cfg.Server.BodyLimit, "HITL_BODY_LIMIT")
	setDuration(&cfg.Server.ShutdownTimeout, "HITL_SHUTDOWN_TIMEOUT")

	setBool(&cfg.MCP.Enabled, "HITL_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "HITL_MCP_ADDR")
	setString(&cfg.MCP.Path, "HITL_MCP_PATH")

	setString(&cfg.Logging.Level, "HITL_LOG_LEVEL")
	setString(&cfg.Logging.Service, "HITL_LOG_SERVICE")
	setString(&cfg.Logging.Format, "HITL_LOG_FORMAT")
	setBool(&cfg.Logging.Async, "HITL_LOG_ASYNC")

	setInt(&cfg.Fanout.QueueSize, "HITL_FANOUT_QUEUE")
	setDuration(&cfg.Fanout.SendTimeout, "HITL_FANOUT_SEND_TIMEOUT")

	setString(&cfg.NATS.URL, "NATS_URL")
	setInt(&cfg.NATS.MaxRetries, "HITL_NATS_MAX_RETRIES")
	setDuration(&cfg.NATS.StreamMaxAge, "HITL_NATS_STREAM_MAX_AGE")
	setBool(&cfg.NATS.Mirror, "HITL_NATS_MIRROR")
	setBool(&cfg.NATS.Resolver, "HITL_NATS_RESOLVER")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "HITL_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "HITL_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "HITL_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "HITL_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "HITL_PG_HEALTH_CHECK")
	setBool(&cfg.Postgres.AutoMigrate, "HITL_PG_AUTO_MIGRATE")

	setInt(&cfg.Breaker.MaxFailures, "HITL_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "HITL_BREAKER_TIMEOUT")

	setBool(&cfg.Rate.Enabled, "HITL_RATE_ENABLED")
	setFloat64(&cfg.Rate.RequestsPerSecond, "HITL_RATE_RPS")
	setInt(&cfg.Rate.Burst, "HITL_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "HITL_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "HITL_RATE_MAX_IDLE_TIME")

	setBool(&cfg.Idempotency.Enabled, "HITL_IDEMPOTENCY_ENABLED")
	setDuration(&cfg.Idempotency.TTL, "HITL_IDEMPOTENCY_TTL")

	setInt64(&cfg.Cache.L1MaxSizeMB, "HITL_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "HITL_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "HITL_CACHE_L2_TTL")

	setBool(&cfg.OTEL.Enabled, "HITL_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "HITL_OTEL_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "HITL_OTEL_INSECURE")
	setString(&cfg.OTEL.ServiceName, "HITL_OTEL_SERVICE_NAME")
	setFloat64(&cfg.OTEL.SampleRate, "HITL_OTEL_SAMPLE_RATE")

	setString(&cfg.Slack.WebhookURL, "HITL_SLACK_WEBHOOK")
	setString(&cfg.Discord.WebhookURL, "HITL_DISCORD_WEBHOOK")

	setString(&cfg.Email.Host, "HITL_SMTP_HOST")
	setInt(&cfg.Email.Port, "HITL_SMTP_PORT")
	setString(&cfg.Email.From, "HITL_SMTP_FROM")
	setString(&cfg.Email.Password, "HITL_SMTP_PASSWORD")
	setStrings(&cfg.Email.To, "HITL_EMAIL_TO")

	setString(&cfg.Policy.File, "HITL_POLICY_FILE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.BodyLimit < 1 {
		return errors.New("server.body_limit must be >= 1")
	}
	if cfg.MCP.Enabled && cfg.MCP.Addr == "" {
		return errors.New("mcp.addr is required when mcp is enabled")
	}
	switch cfg.Logging.Format {
	case "json", "text", "auto":
	default:
		return fmt.Errorf("logging.format %q must be json, text or auto", cfg.Logging.Format)
	}
	if cfg.Fanout.QueueSize < 1 {
		return errors.New("fanout.queue_size must be >= 1")
	}
	if cfg.Fanout.SendTimeout <= 0 {
		return errors.New("fanout.send_timeout must be positive")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Enabled && (cfg.Rate.Burst < 1 || cfg.Rate.RequestsPerSecond <= 0) {
		return errors.New("rate.burst must be >= 1 and rate.requests_per_second > 0")
	}
	if cfg.Idempotency.Enabled && cfg.Cache.L1MaxSizeMB < 1 {
		return errors.New("cache.l1_max_size_mb must be >= 1")
	}
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint == "" {
		return errors.New("otel.endpoint is required when otel is enabled")
	}
	if cfg.Email.Host != "" && (cfg.Email.From == "" || len(cfg.Email.To) == 0) {
		return errors.New("email.from and email.to are required when email.host is set")
	}
	if cfg.Email.Host != "" && (cfg.Email.Port < 1 || cfg.Email.Port > 65535) {
		return errors.New("email.port must be between 1 and 65535")
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be between 0 and 1")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// setStrings reads a comma-separated list.
func setStrings(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
