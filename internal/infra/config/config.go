// Package config loads and validates the agorad configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"agora/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	Gateway     GatewayConfig     `yaml:"gateway"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Notify      NotifyConfig      `yaml:"notify"`
	Announce    AnnounceConfig    `yaml:"announce"`
	Logger      LoggerConfig      `yaml:"logger"`
	Tracer      TracerConfig      `yaml:"tracer"`
}

// GatewayConfig holds the WebSocket/HTTP endpoint settings.
type GatewayConfig struct {
	Addr       string   `yaml:"addr"`
	SendBuffer int      `yaml:"send_buffer"` // per-connection outbound queue size
	RateLimit  float64  `yaml:"rate_limit"`  // inbound messages/sec per connection, 0 = unlimited
	RateBurst  int      `yaml:"rate_burst"`
	AuthTokens []string `yaml:"auth_tokens"` // empty = open access
}

// MarketplaceConfig holds coordinator/order-book settings.
type MarketplaceConfig struct {
	OrderTimeout string `yaml:"order_timeout"` // acceptance window for routed orders, default "30s"
}

// DiscoveryConfig holds the snapshot schedule for the query API.
type DiscoveryConfig struct {
	RefreshSchedule string `yaml:"refresh_schedule"` // cron syntax, default "@every 5s"
}

// LedgerConfig holds settlement-history settings.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// NotifyConfig holds webhook notifier settings.
type NotifyConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	Timeout     string `yaml:"timeout"` // duration string, default "10s"
	MaxFailures uint32 `yaml:"max_failures"`
}

// AnnounceConfig holds mDNS advertisement settings.
type AnnounceConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"` // service instance name, default hostname
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr or a file path
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Addr:       "127.0.0.1:8790",
			SendBuffer: 64,
		},
		Marketplace: MarketplaceConfig{OrderTimeout: "30s"},
		Discovery:   DiscoveryConfig{RefreshSchedule: "@every 5s"},
		Ledger:      LedgerConfig{Enabled: true, Path: "agora.db"},
		Notify:      NotifyConfig{Timeout: "10s"},
		Logger:      LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Tracer:      TracerConfig{Exporter: "noop"},
	}
}

// Load reads the YAML file at path, expands ${ENV_VAR} references, applies
// defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, err.Error())
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), cfg); err != nil {
		return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints and duration syntax.
func (c *Config) Validate() error {
	if c.Gateway.Addr == "" {
		return validationErr("gateway.addr must not be empty")
	}
	if c.Gateway.SendBuffer < 0 {
		return validationErr("gateway.send_buffer must not be negative")
	}
	if c.Gateway.RateLimit < 0 {
		return validationErr("gateway.rate_limit must not be negative")
	}
	if _, err := c.OrderTimeout(); err != nil {
		return validationErr(fmt.Sprintf("marketplace.order_timeout: %v", err))
	}
	if c.Ledger.Enabled && c.Ledger.Path == "" {
		return validationErr("ledger.path required when ledger is enabled")
	}
	if c.Notify.Enabled {
		if c.Notify.URL == "" {
			return validationErr("notify.url required when notify is enabled")
		}
		if _, err := c.NotifyTimeout(); err != nil {
			return validationErr(fmt.Sprintf("notify.timeout: %v", err))
		}
	}
	switch c.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		return validationErr(fmt.Sprintf("tracer.exporter %q not supported", c.Tracer.Exporter))
	}
	return nil
}

// OrderTimeout parses the routed-order acceptance window.
func (c *Config) OrderTimeout() (time.Duration, error) {
	if c.Marketplace.OrderTimeout == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(c.Marketplace.OrderTimeout)
}

// NotifyTimeout parses the webhook HTTP timeout.
func (c *Config) NotifyTimeout() (time.Duration, error) {
	if c.Notify.Timeout == "" {
		return 10 * time.Second, nil
	}
	return time.ParseDuration(c.Notify.Timeout)
}

func validationErr(detail string) error {
	return domain.NewDomainError("config.Validate", domain.ErrConfigLoad, detail)
}
