package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/clawswarm/internal/auth"
	"github.com/2389/clawswarm/internal/config"
	"github.com/2389/clawswarm/internal/message"
)

// clearEnv unsets every variable the config overlay reads. Empty values
// would still be parsed, so each one is removed after t.Setenv registers
// its restore.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CLAWSWARM_CONFIG", "GATEWAY_HOST", "GATEWAY_PORT", "GATEWAY_TLS",
		"CLAWSWARM_GATEWAY_ADDR", "CLAWSWARM_JWT_SECRET",
		"TELEGRAM_BOT_TOKEN", "DISCORD_BOT_TOKEN", "DISCORD_CHANNEL_IDS",
		"WHATSAPP_ACCESS_TOKEN", "WHATSAPP_PHONE_NUMBER_ID", "WHATSAPP_VERIFY_TOKEN",
		"MATRIX_HOMESERVER", "MATRIX_USER_ID", "MATRIX_ACCESS_TOKEN",
		"AGENT_MODEL", "AGENT_MEMORY_FILE", "AGENT_MEMORY_MAX_CHARS",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "SWARMS_API_KEY", "WALLET_PRIVATE_KEY", "EXA_API_KEY",
	} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func envConfig(t *testing.T) *config.Config {
	t.Helper()
	clearEnv(t)
	cfg, err := config.FromEnv()
	require.NoError(t, err)
	return cfg
}

func TestGetConfigPath(t *testing.T) {
	clearEnv(t)
	cfgFile = ""
	t.Cleanup(func() { cfgFile = "" })

	t.Setenv("HOME", "/home/tester")
	t.Setenv("XDG_CONFIG_HOME", "")
	assert.Equal(t, "/home/tester/.config/clawswarm/config.yaml", getConfigPath())

	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, "/xdg/clawswarm/config.yaml", getConfigPath())

	t.Setenv("CLAWSWARM_CONFIG", "/etc/clawswarm.toml")
	assert.Equal(t, "/etc/clawswarm.toml", getConfigPath())

	cfgFile = "/flag.yaml"
	assert.Equal(t, "/flag.yaml", getConfigPath())
}

func TestLoadConfig_FallsBackToEnvironment(t *testing.T) {
	clearEnv(t)
	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() { cfgFile = "" })
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	cfg, path, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "(environment)", path)
	assert.Equal(t, "123:abc", cfg.Platforms.Telegram.BotToken)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "(not set)", maskSecret(""))
	assert.Equal(t, "*****", maskSecret("short"))
	assert.Equal(t, "sk-abcde...", maskSecret("sk-abcdefghijkl"))
}

func TestPrintSettings_MasksSecrets(t *testing.T) {
	color.NoColor = true
	cfg := envConfig(t)
	cfg.LLM.APIKey = "sk-secret-value-123"
	cfg.Platforms.Telegram.BotToken = "987654321:telegram-token"

	var buf bytes.Buffer
	printSettings(&buf, cfg, "/tmp/config.yaml")
	out := buf.String()

	assert.Contains(t, out, "sk-secre...")
	assert.NotContains(t, out, "sk-secret-value-123")
	assert.NotContains(t, out, "telegram-token")
	assert.Contains(t, out, "[platforms]")
}

func TestMintToken(t *testing.T) {
	cfg := envConfig(t)

	_, err := mintToken(cfg, "", time.Hour)
	assert.Error(t, err, "no secret configured")

	cfg.Auth.JWTSecret = "a-test-secret-of-reasonable-length"
	token, err := mintToken(cfg, "", time.Hour)
	require.NoError(t, err)
	consumer, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, cfg.Runner.ConsumerID, consumer)

	token, err = mintToken(cfg, "ops", time.Hour)
	require.NoError(t, err)
	consumer, _ = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Verify(token)
	assert.Equal(t, "ops", consumer)

	_, err = mintToken(cfg, "ops", 0)
	assert.Error(t, err)
}

func TestBuildAdapters(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	cfg := envConfig(t)
	assert.Empty(t, buildAdapters(cfg, logger), "no credentials means no adapters")

	cfg.Platforms.WhatsApp.AccessToken = "token"
	cfg.Platforms.WhatsApp.PhoneNumberID = "phone"
	cfg.Platforms.Matrix.Homeserver = "https://matrix.example.org"
	cfg.Platforms.Matrix.UserID = "@bot:example.org"
	cfg.Platforms.Matrix.AccessToken = "syt_token"

	adapters := buildAdapters(cfg, logger)
	require.Len(t, adapters, 2)
	assert.Equal(t, message.PlatformWhatsApp, adapters[0].Platform())
	assert.Equal(t, message.PlatformMatrix, adapters[1].Platform())
	for _, a := range adapters {
		assert.True(t, a.Enabled())
	}
	assert.Len(t, senders(adapters), 2)
}

func TestRunnerPlatforms(t *testing.T) {
	got, err := runnerPlatforms([]string{"telegram", "discord"})
	require.NoError(t, err)
	assert.Equal(t, []message.Platform{message.PlatformTelegram, message.PlatformDiscord}, got)

	got, err = runnerPlatforms(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = runnerPlatforms([]string{"pager"})
	assert.ErrorIs(t, err, config.ErrFatalConfig)
}

func TestRunAgent_RequiresAPIKey(t *testing.T) {
	cfg := envConfig(t)
	err := runAgent(context.Background(), cfg, slog.Default())
	assert.ErrorIs(t, err, config.ErrFatalConfig)
}

func TestLocalGateway(t *testing.T) {
	cfg := envConfig(t)
	cfg.Server.GRPCAddr = "[::]:6000"
	cfg.Auth.JWTSecret = "a-test-secret-of-reasonable-length"

	require.NoError(t, localGateway(cfg))
	assert.Equal(t, "localhost:6000", cfg.Runner.GatewayAddr)
	consumer, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Verify(cfg.Runner.GatewayToken)
	require.NoError(t, err)
	assert.Equal(t, cfg.Runner.ConsumerID, consumer)

	// An explicit address and token are left alone
	cfg = envConfig(t)
	cfg.Runner.GatewayAddr = "gateway.internal:50051"
	cfg.Runner.GatewayToken = "preset"
	cfg.Auth.JWTSecret = "a-test-secret-of-reasonable-length"
	require.NoError(t, localGateway(cfg))
	assert.Equal(t, "gateway.internal:50051", cfg.Runner.GatewayAddr)
	assert.Equal(t, "preset", cfg.Runner.GatewayToken)
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "gateway").WithGroup("req").Info("poll served", "count", 3)
	logger.Warn("backing off", slog.Group("retry", "attempt", 2))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INF poll served component=gateway req.count=3")
	assert.Contains(t, lines[1], "WRN backing off retry.attempt=2")
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
