package config

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

// CLIFlags holds command-line overrides. A nil field was not given.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
	MCPAddr    *string
}

type flagValues struct {
	configPath, port, logLevel, dsn, natsURL, mcpAddr string
}

// BindFlags registers the override flags on fs. Call Resolve after parsing.
func BindFlags(fs *pflag.FlagSet) *FlagBinding {
	b := &FlagBinding{fs: fs}
	fs.StringVarP(&b.v.configPath, "config", "c", "", "path to YAML config file")
	fs.StringVarP(&b.v.port, "port", "p", "", "HTTP listen port")
	fs.StringVar(&b.v.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&b.v.dsn, "dsn", "", "PostgreSQL DSN for the audit archive")
	fs.StringVar(&b.v.natsURL, "nats-url", "", "NATS server URL")
	fs.StringVar(&b.v.mcpAddr, "mcp-addr", "", "MCP listen address")
	return b
}

// FlagBinding ties a FlagSet to the values it parses into.
type FlagBinding struct {
	fs *pflag.FlagSet
	v  flagValues
}

// Resolve returns the flags that were explicitly set.
func (b *FlagBinding) Resolve() CLIFlags {
	pick := func(name string, v *string) *string {
		if !b.fs.Changed(name) {
			return nil
		}
		s := *v
		return &s
	}
	return CLIFlags{
		ConfigPath: pick("config", &b.v.configPath),
		Port:       pick("port", &b.v.port),
		LogLevel:   pick("log-level", &b.v.logLevel),
		DSN:        pick("dsn", &b.v.dsn),
		NatsURL:    pick("nats-url", &b.v.natsURL),
		MCPAddr:    pick("mcp-addr", &b.v.mcpAddr),
	}
}

// ParseFlags parses args on a fresh flag set.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := pflag.NewFlagSet("hitl", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	b := BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}
	return b.Resolve(), nil
}

// LoadWithCLI loads defaults < YAML < ENV < CLI and returns the config with
// the YAML path that was used.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if p := envOr("HITL_CONFIG", ""); p != "" {
		path = p
	}
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, path, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, path, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

// applyCLI overlays the flags that were set.
func applyCLI(cfg *Config, f CLIFlags) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&cfg.Server.Port, f.Port)
	set(&cfg.Logging.Level, f.LogLevel)
	set(&cfg.Postgres.DSN, f.DSN)
	set(&cfg.NATS.URL, f.NatsURL)
	set(&cfg.MCP.Addr, f.MCPAddr)
}
