// ABOUTME: Environment overlay and defaults for the clawswarm configuration
// ABOUTME: Maps the deployment env vars onto config fields with envconfig

package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/2389/clawswarm/internal/message"
)

// envOverlay lists the environment variables honoured on top of the file.
type envOverlay struct {
	GatewayHost        string `envconfig:"GATEWAY_HOST"`
	GatewayPort        int    `envconfig:"GATEWAY_PORT"`
	GatewayTLS         bool   `envconfig:"GATEWAY_TLS"`
	GatewayTLSCertFile string `envconfig:"GATEWAY_TLS_CERT_FILE"`
	GatewayTLSKeyFile  string `envconfig:"GATEWAY_TLS_KEY_FILE"`
	GatewayAddr        string `envconfig:"CLAWSWARM_GATEWAY_ADDR"`
	JWTSecret          string `envconfig:"CLAWSWARM_JWT_SECRET"`

	TelegramBotToken      string   `envconfig:"TELEGRAM_BOT_TOKEN"`
	DiscordBotToken       string   `envconfig:"DISCORD_BOT_TOKEN"`
	DiscordChannelIDs     []string `envconfig:"DISCORD_CHANNEL_IDS"`
	WhatsAppAccessToken   string   `envconfig:"WHATSAPP_ACCESS_TOKEN"`
	WhatsAppPhoneNumberID string   `envconfig:"WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppVerifyToken   string   `envconfig:"WHATSAPP_VERIFY_TOKEN"`
	MatrixHomeserver      string   `envconfig:"MATRIX_HOMESERVER"`
	MatrixUserID          string   `envconfig:"MATRIX_USER_ID"`
	MatrixAccessToken     string   `envconfig:"MATRIX_ACCESS_TOKEN"`

	AgentModel          string `envconfig:"AGENT_MODEL"`
	AgentMemoryFile     string `envconfig:"AGENT_MEMORY_FILE"`
	AgentMemoryMaxChars int    `envconfig:"AGENT_MEMORY_MAX_CHARS"`
	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string `envconfig:"OPENAI_BASE_URL"`

	SwarmsAPIKey     string `envconfig:"SWARMS_API_KEY"`
	WalletPrivateKey string `envconfig:"WALLET_PRIVATE_KEY"`
	ExaAPIKey        string `envconfig:"EXA_API_KEY"`
}

// applyEnv overlays set environment variables. Unset ones leave the file value.
func applyEnv(cfg *Config) error {
	var env envOverlay
	if err := envconfig.Process("", &env); err != nil {
		return err
	}

	if env.GatewayHost != "" || env.GatewayPort != 0 {
		host, port := splitAddr(cfg.Server.GRPCAddr)
		if env.GatewayHost != "" {
			host = strings.Trim(env.GatewayHost, "[]")
		}
		if env.GatewayPort != 0 {
			port = strconv.Itoa(env.GatewayPort)
		}
		cfg.Server.GRPCAddr = net.JoinHostPort(host, port)
	}
	if env.GatewayTLS {
		set(&cfg.Server.TLSCertFile, env.GatewayTLSCertFile)
		set(&cfg.Server.TLSKeyFile, env.GatewayTLSKeyFile)
		if !cfg.Server.TLSEnabled() {
			return fmt.Errorf("GATEWAY_TLS requires GATEWAY_TLS_CERT_FILE and GATEWAY_TLS_KEY_FILE")
		}
	}
	set(&cfg.Runner.GatewayAddr, env.GatewayAddr)
	set(&cfg.Auth.JWTSecret, env.JWTSecret)

	p := &cfg.Platforms
	set(&p.Telegram.BotToken, env.TelegramBotToken)
	set(&p.Discord.BotToken, env.DiscordBotToken)
	if len(env.DiscordChannelIDs) > 0 {
		p.Discord.ChannelIDs = cleanList(env.DiscordChannelIDs)
	}
	set(&p.WhatsApp.AccessToken, env.WhatsAppAccessToken)
	set(&p.WhatsApp.PhoneNumberID, env.WhatsAppPhoneNumberID)
	set(&p.WhatsApp.VerifyToken, env.WhatsAppVerifyToken)
	set(&p.Matrix.Homeserver, env.MatrixHomeserver)
	set(&p.Matrix.UserID, env.MatrixUserID)
	set(&p.Matrix.AccessToken, env.MatrixAccessToken)

	set(&cfg.Models.Default, env.AgentModel)
	set(&cfg.Memory.Path, env.AgentMemoryFile)
	if env.AgentMemoryMaxChars != 0 {
		cfg.Memory.MaxChars = env.AgentMemoryMaxChars
	}
	set(&cfg.LLM.APIKey, env.OpenAIAPIKey)
	set(&cfg.LLM.BaseURL, env.OpenAIBaseURL)

	set(&cfg.Tools.SwarmsAPIKey, env.SwarmsAPIKey)
	set(&cfg.Tools.WalletPrivateKey, env.WalletPrivateKey)
	set(&cfg.Tools.ExaAPIKey, env.ExaAPIKey)
	return nil
}

func set(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func splitAddr(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "::", "50051"
	}
	return host, port
}

// applyDefaults fills every unset field.
func applyDefaults(cfg *Config) {
	defString(&cfg.Server.GRPCAddr, "[::]:50051")
	defString(&cfg.Server.HTTPAddr, ":8080")
	defString(&cfg.Database.Path, "clawswarm.db")

	g := &cfg.Gateway
	defDuration(&g.FetchInterval, 2*time.Second)
	defDuration(&g.BackoffBase, time.Second)
	defDuration(&g.BackoffMax, time.Minute)
	defDuration(&g.TombstoneTTL, 24*time.Hour)
	defInt(&g.FetchMax, 100)
	defInt(&g.MaxRetained, 10_000)
	defInt(&g.MaxTombstones, 100_000)

	defDuration(&cfg.Platforms.Telegram.PollTimeout, 10*time.Second)
	if cfg.Platforms.WhatsApp.WebhookRate <= 0 {
		cfg.Platforms.WhatsApp.WebhookRate = 20
	}
	defInt(&cfg.Platforms.WhatsApp.WebhookBurst, 40)

	r := &cfg.Runner
	defString(&r.GatewayAddr, "localhost:50051")
	defString(&r.ConsumerID, "clawswarm-agent")
	defInt(&r.MaxMessages, 100)
	defDuration(&r.PollInterval, 2*time.Second)
	defDuration(&r.TickTimeout, 2*time.Minute)

	defString(&cfg.Memory.Path, "agent_memory.md")
	defInt(&cfg.Memory.MaxChars, 100_000)
	defInt(&cfg.Memory.TopK, 20)

	defString(&cfg.LLM.EmbeddingModel, "text-embedding-3-small")
	defString(&cfg.Models.Default, "gpt-4o-mini")

	t := &cfg.Tools
	defString(&t.SwarmsBaseURL, "https://swarms.world")
	defString(&t.ExaBaseURL, "https://api.exa.ai")
	defString(&t.SandboxDir, "/tmp/clawswarm-projects")
	defDuration(&t.DeveloperTimeout, 10*time.Minute)

	defInt(&cfg.Replier.MaxAttempts, 3)
	defDuration(&cfg.Replier.BackoffBase, 500*time.Millisecond)
	if cfg.Replier.Rate <= 0 {
		cfg.Replier.Rate = 1
	}
	defInt(&cfg.Replier.Burst, 3)

	defString(&cfg.Logging.Level, "info")
	defString(&cfg.Logging.Format, "text")
	defString(&cfg.Metrics.Path, "/metrics")
	defString(&cfg.Telemetry.ServiceName, "clawswarm")
	defString(&cfg.Telemetry.Protocol, "http")
}

func defString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func defInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

func defDuration(dst *time.Duration, v time.Duration) {
	if *dst == 0 {
		*dst = v
	}
}

// PlatformStatus reports whether a platform has the credentials it needs.
type PlatformStatus struct {
	Platform message.Platform
	Enabled  bool
	// Reason wraps ErrFatalConfig when the platform is disabled.
	Reason error
}

// PlatformStatuses reports credential status for every adapter-backed platform.
func (c *Config) PlatformStatuses() []PlatformStatus {
	missing := func(p message.Platform, what string) PlatformStatus {
		return PlatformStatus{Platform: p, Reason: fmt.Errorf("%w: %s: %s not set", ErrFatalConfig, p, what)}
	}
	ok := func(p message.Platform) PlatformStatus { return PlatformStatus{Platform: p, Enabled: true} }

	var out []PlatformStatus
	p := c.Platforms

	if p.Telegram.BotToken == "" {
		out = append(out, missing(message.PlatformTelegram, "bot_token"))
	} else {
		out = append(out, ok(message.PlatformTelegram))
	}

	switch {
	case p.Discord.BotToken == "":
		out = append(out, missing(message.PlatformDiscord, "bot_token"))
	case len(p.Discord.ChannelIDs) == 0:
		out = append(out, missing(message.PlatformDiscord, "channel_ids"))
	default:
		out = append(out, ok(message.PlatformDiscord))
	}

	if p.WhatsApp.AccessToken == "" || p.WhatsApp.PhoneNumberID == "" {
		out = append(out, missing(message.PlatformWhatsApp, "access_token or phone_number_id"))
	} else {
		out = append(out, ok(message.PlatformWhatsApp))
	}

	if p.Matrix.Homeserver == "" || p.Matrix.AccessToken == "" {
		out = append(out, missing(message.PlatformMatrix, "homeserver or access_token"))
	} else {
		out = append(out, ok(message.PlatformMatrix))
	}
	return out
}
