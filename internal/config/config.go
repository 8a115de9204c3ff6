// ABOUTME: Configuration loading and parsing for the clawswarm gateway and agent
// ABOUTME: YAML or TOML files with ${VAR} expansion, an env overlay, durations, and defaults

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrFatalConfig marks configuration problems. At config level it aborts the
// process; per platform it only disables that platform.
var ErrFatalConfig = errors.New("fatal configuration")

// Config represents the complete clawswarm configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Bus       BusConfig       `yaml:"bus" toml:"bus"`
	Gateway   GatewayConfig   `yaml:"gateway" toml:"gateway"`
	Platforms PlatformsConfig `yaml:"platforms" toml:"platforms"`
	Runner    RunnerConfig    `yaml:"runner" toml:"runner"`
	Memory    MemoryConfig    `yaml:"memory" toml:"memory"`
	LLM       LLMConfig       `yaml:"llm" toml:"llm"`
	Models    ModelsConfig    `yaml:"models" toml:"models"`
	Tools     ToolsConfig     `yaml:"tools" toml:"tools"`
	Replier   ReplierConfig   `yaml:"replier" toml:"replier"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
}

// ServerConfig holds listener addresses and optional TLS material
type ServerConfig struct {
	GRPCAddr    string `yaml:"grpc_addr" toml:"grpc_addr"`
	HTTPAddr    string `yaml:"http_addr" toml:"http_addr"`
	TLSCertFile string `yaml:"tls_cert_file" toml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file" toml:"tls_key_file"`
}

// TLSEnabled reports whether both certificate and key are configured.
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	// HTTPS serves the HTTP API on :443 with tailnet certificates.
	HTTPS bool `yaml:"https" toml:"https"`
	// Funnel exposes the HTTP API publicly, which webhooks need.
	Funnel bool `yaml:"funnel" toml:"funnel"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// JWTSecret enables bearer-token auth on the gRPC API when set.
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// BusConfig configures the embedded NATS server. Port 0 picks a free port.
type BusConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
}

// GatewayConfig holds ingest timing and store retention
type GatewayConfig struct {
	FetchInterval time.Duration `yaml:"-" toml:"-"`
	BackoffBase   time.Duration `yaml:"-" toml:"-"`
	BackoffMax    time.Duration `yaml:"-" toml:"-"`
	TombstoneTTL  time.Duration `yaml:"-" toml:"-"`
	FetchMax      int           `yaml:"fetch_max" toml:"fetch_max"`
	MaxRetained   int           `yaml:"max_retained" toml:"max_retained"`
	MaxTombstones int           `yaml:"max_tombstones" toml:"max_tombstones"`

	// Raw string values for YAML unmarshaling
	FetchIntervalRaw string `yaml:"fetch_interval" toml:"fetch_interval"`
	BackoffBaseRaw   string `yaml:"backoff_base" toml:"backoff_base"`
	BackoffMaxRaw    string `yaml:"backoff_max" toml:"backoff_max"`
	TombstoneTTLRaw  string `yaml:"tombstone_ttl" toml:"tombstone_ttl"`
}

// PlatformsConfig holds credentials for every chat platform
type PlatformsConfig struct {
	Telegram TelegramConfig `yaml:"telegram" toml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord" toml:"discord"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp" toml:"whatsapp"`
	Matrix   MatrixConfig   `yaml:"matrix" toml:"matrix"`
}

// TelegramConfig holds Telegram Bot API configuration
type TelegramConfig struct {
	BotToken       string        `yaml:"bot_token" toml:"bot_token"`
	APIServer      string        `yaml:"api_server" toml:"api_server"`
	PollTimeout    time.Duration `yaml:"-" toml:"-"`
	PollTimeoutRaw string        `yaml:"poll_timeout" toml:"poll_timeout"`
}

// DiscordConfig holds Discord bot configuration
type DiscordConfig struct {
	BotToken   string   `yaml:"bot_token" toml:"bot_token"`
	ChannelIDs []string `yaml:"channel_ids" toml:"channel_ids"`
}

// WhatsAppConfig holds WhatsApp Cloud API configuration
type WhatsAppConfig struct {
	AccessToken   string  `yaml:"access_token" toml:"access_token"`
	PhoneNumberID string  `yaml:"phone_number_id" toml:"phone_number_id"`
	VerifyToken   string  `yaml:"verify_token" toml:"verify_token"`
	AppSecret     string  `yaml:"app_secret" toml:"app_secret"`
	GraphURL      string  `yaml:"graph_url" toml:"graph_url"`
	WebhookRate   float64 `yaml:"webhook_rate" toml:"webhook_rate"`
	WebhookBurst  int     `yaml:"webhook_burst" toml:"webhook_burst"`
}

// MatrixConfig holds Matrix integration configuration
type MatrixConfig struct {
	Homeserver   string   `yaml:"homeserver" toml:"homeserver"`
	UserID       string   `yaml:"user_id" toml:"user_id"`
	AccessToken  string   `yaml:"access_token" toml:"access_token"`
	AllowedRooms []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
}

// RunnerConfig holds the agent loop settings
type RunnerConfig struct {
	GatewayAddr  string   `yaml:"gateway_addr" toml:"gateway_addr"`
	GatewayToken string   `yaml:"gateway_token" toml:"gateway_token"`
	GatewayTLS   bool     `yaml:"gateway_tls" toml:"gateway_tls"`
	ConsumerID   string   `yaml:"consumer_id" toml:"consumer_id"`
	MaxMessages  int      `yaml:"max_messages" toml:"max_messages"`
	Platforms    []string `yaml:"platforms" toml:"platforms"`

	PollInterval time.Duration `yaml:"-" toml:"-"`
	TickTimeout  time.Duration `yaml:"-" toml:"-"`

	PollIntervalRaw string `yaml:"poll_interval" toml:"poll_interval"`
	TickTimeoutRaw  string `yaml:"tick_timeout" toml:"tick_timeout"`
}

// MemoryConfig holds the markdown memory log settings
type MemoryConfig struct {
	Path     string `yaml:"path" toml:"path"`
	MaxChars int    `yaml:"max_chars" toml:"max_chars"`
	TopK     int    `yaml:"top_k" toml:"top_k"`
}

// LLMConfig holds the OpenAI-compatible endpoint
type LLMConfig struct {
	APIKey         string `yaml:"api_key" toml:"api_key"`
	BaseURL        string `yaml:"base_url" toml:"base_url"`
	EmbeddingModel string `yaml:"embedding_model" toml:"embedding_model"`
}

// ModelsConfig selects a model per pipeline role. Empty roles use Default.
type ModelsConfig struct {
	Default     string `yaml:"default" toml:"default"`
	Director    string `yaml:"director" toml:"director"`
	Summarizer  string `yaml:"summarizer" toml:"summarizer"`
	Response    string `yaml:"response" toml:"response"`
	Search      string `yaml:"search" toml:"search"`
	TokenLaunch string `yaml:"token_launch" toml:"token_launch"`
	Developer   string `yaml:"developer" toml:"developer"`
}

// For returns the model configured for role, falling back to Default.
func (m ModelsConfig) For(role string) string {
	var v string
	switch role {
	case "director":
		v = m.Director
	case "summarizer":
		v = m.Summarizer
	case "response":
		v = m.Response
	case "search":
		v = m.Search
	case "token_launch":
		v = m.TokenLaunch
	case "developer":
		v = m.Developer
	}
	if v == "" {
		return m.Default
	}
	return v
}

// ToolsConfig holds credentials for worker tools
type ToolsConfig struct {
	SwarmsAPIKey     string   `yaml:"swarms_api_key" toml:"swarms_api_key"`
	SwarmsBaseURL    string   `yaml:"swarms_base_url" toml:"swarms_base_url"`
	WalletPrivateKey string   `yaml:"wallet_private_key" toml:"wallet_private_key"`
	ExaAPIKey        string   `yaml:"exa_api_key" toml:"exa_api_key"`
	ExaBaseURL       string   `yaml:"exa_base_url" toml:"exa_base_url"`
	DeveloperCommand []string `yaml:"developer_command" toml:"developer_command"`
	SandboxDir       string   `yaml:"sandbox_dir" toml:"sandbox_dir"`

	DeveloperTimeout    time.Duration `yaml:"-" toml:"-"`
	DeveloperTimeoutRaw string        `yaml:"developer_timeout" toml:"developer_timeout"`
}

// ReplierConfig holds outbound retry and rate settings
type ReplierConfig struct {
	MaxAttempts int     `yaml:"max_attempts" toml:"max_attempts"`
	Rate        float64 `yaml:"rate" toml:"rate"`
	Burst       int     `yaml:"burst" toml:"burst"`

	BackoffBase    time.Duration `yaml:"-" toml:"-"`
	BackoffBaseRaw string        `yaml:"backoff_base" toml:"backoff_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// TelemetryConfig holds tracing export settings. No endpoint means no export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	Protocol     string `yaml:"protocol" toml:"protocol"` // "http" or "grpc"
	Insecure     bool   `yaml:"insecure" toml:"insecure"`
	ServiceName  string `yaml:"service_name" toml:"service_name"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded, then the
// deployment env vars (TELEGRAM_BOT_TOKEN, GATEWAY_PORT, ...) are overlaid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return finish(&cfg)
}

// FromEnv builds a Config from defaults and environment variables alone.
func FromEnv() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("%w: reading environment: %w", ErrFatalConfig, err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing durations: %w", ErrFatalConfig, err)
	}

	applyDefaults(cfg)

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: validating config: %w", ErrFatalConfig, err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server addresses are required unless Tailscale is enabled
	if !c.Tailscale.Enabled {
		if c.Server.GRPCAddr == "" {
			return fmt.Errorf("server.grpc_addr is required (or enable tailscale)")
		}
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("server.http_addr is required (or enable tailscale)")
		}
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return fmt.Errorf("server.tls_cert_file and server.tls_key_file must be set together")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Gateway.BackoffMax < c.Gateway.BackoffBase {
		return fmt.Errorf("gateway.backoff_max (%s) must not be below gateway.backoff_base (%s)",
			c.Gateway.BackoffMax, c.Gateway.BackoffBase)
	}

	if c.Runner.MaxMessages < 1 || c.Runner.MaxMessages > 1000 {
		return fmt.Errorf("runner.max_messages must be between 1 and 1000, got %d", c.Runner.MaxMessages)
	}

	if c.Memory.MaxChars < 0 {
		return fmt.Errorf("memory.max_chars must not be negative")
	}
	if c.Memory.TopK < 1 {
		return fmt.Errorf("memory.top_k must be at least 1")
	}

	if c.Replier.MaxAttempts < 1 {
		return fmt.Errorf("replier.max_attempts must be at least 1")
	}

	switch c.Telemetry.Protocol {
	case "http", "grpc":
	default:
		return fmt.Errorf("telemetry.protocol must be http or grpc, got %q", c.Telemetry.Protocol)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"gateway.fetch_interval", cfg.Gateway.FetchIntervalRaw, &cfg.Gateway.FetchInterval},
		{"gateway.backoff_base", cfg.Gateway.BackoffBaseRaw, &cfg.Gateway.BackoffBase},
		{"gateway.backoff_max", cfg.Gateway.BackoffMaxRaw, &cfg.Gateway.BackoffMax},
		{"gateway.tombstone_ttl", cfg.Gateway.TombstoneTTLRaw, &cfg.Gateway.TombstoneTTL},
		{"platforms.telegram.poll_timeout", cfg.Platforms.Telegram.PollTimeoutRaw, &cfg.Platforms.Telegram.PollTimeout},
		{"runner.poll_interval", cfg.Runner.PollIntervalRaw, &cfg.Runner.PollInterval},
		{"runner.tick_timeout", cfg.Runner.TickTimeoutRaw, &cfg.Runner.TickTimeout},
		{"tools.developer_timeout", cfg.Tools.DeveloperTimeoutRaw, &cfg.Tools.DeveloperTimeout},
		{"replier.backoff_base", cfg.Replier.BackoffBaseRaw, &cfg.Replier.BackoffBase},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
