// ABOUTME: Operator commands: health check, effective settings, and token minting
// ABOUTME: Secrets are masked whenever settings are printed

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/clawswarm/internal/auth"
	"github.com/2389/clawswarm/internal/config"
	"github.com/2389/clawswarm/internal/gatewayrpc"
)

const (
	shutdownTimeout    = 5 * time.Second
	healthCheckTimeout = 5 * time.Second
	defaultTokenTTL    = 30 * 24 * time.Hour
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check gateway health over gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			return runHealth(cmd.Context(), cfg, os.Stdout)
		},
	}
}

func runHealth(ctx context.Context, cfg *config.Config, w io.Writer) error {
	client, err := gatewayrpc.Dial(gatewayrpc.DialConfig{
		Addr:  cfg.Runner.GatewayAddr,
		Token: cfg.Runner.GatewayToken,
		TLS:   cfg.Runner.GatewayTLS,
	})
	if err != nil {
		return fmt.Errorf("dialing gateway: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	resp, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Fprintf(w, "status:    %s\n", resp.Status)
	fmt.Fprintf(w, "version:   %s\n", resp.Version)
	fmt.Fprintf(w, "platforms: %s\n", joinNames(resp.EnabledPlatforms))
	if len(resp.BackingOff) > 0 {
		fmt.Fprintf(w, "backoff:   %s\n", joinNames(resp.BackingOff))
	}
	if resp.Status != gatewayrpc.StatusServing {
		return fmt.Errorf("gateway %s", strings.ToLower(resp.Status))
	}
	return nil
}

func joinNames[T fmt.Stringer](items []T) string {
	if len(items) == 0 {
		return "none"
	}
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.String()
	}
	return strings.Join(names, ", ")
}

func settingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			printSettings(os.Stdout, cfg, path)
			return nil
		},
	}
}

// maskSecret keeps the first 8 characters of a secret.
func maskSecret(s string) string {
	switch {
	case s == "":
		return "(not set)"
	case len(s) <= 8:
		return strings.Repeat("*", len(s))
	default:
		return s[:8] + "..."
	}
}

func printSettings(w io.Writer, cfg *config.Config, path string) {
	section := func(name string) { fmt.Fprintln(w, color.CyanString("[%s]", name)) }
	kv := func(k string, v any) { fmt.Fprintf(w, "  %-20s %v\n", k, v) }

	fmt.Fprintf(w, "config: %s\n\n", path)

	section("server")
	kv("grpc_addr", cfg.Server.GRPCAddr)
	kv("http_addr", cfg.Server.HTTPAddr)
	kv("tls", cfg.Server.TLSEnabled())
	kv("jwt_secret", maskSecret(cfg.Auth.JWTSecret))
	kv("tailscale", cfg.Tailscale.Enabled)

	section("gateway")
	kv("fetch_interval", cfg.Gateway.FetchInterval)
	kv("backoff", fmt.Sprintf("%s..%s", cfg.Gateway.BackoffBase, cfg.Gateway.BackoffMax))
	kv("fetch_max", cfg.Gateway.FetchMax)
	kv("max_retained", cfg.Gateway.MaxRetained)
	kv("tombstone_ttl", cfg.Gateway.TombstoneTTL)

	section("platforms")
	for _, st := range cfg.PlatformStatuses() {
		state := "enabled"
		if !st.Enabled {
			state = "disabled"
		}
		kv(st.Platform.String(), state)
	}
	p := cfg.Platforms
	kv("telegram.bot_token", maskSecret(p.Telegram.BotToken))
	kv("discord.bot_token", maskSecret(p.Discord.BotToken))
	kv("discord.channel_ids", strings.Join(p.Discord.ChannelIDs, ","))
	kv("whatsapp.token", maskSecret(p.WhatsApp.AccessToken))
	kv("matrix.access_token", maskSecret(p.Matrix.AccessToken))

	section("agent")
	kv("gateway_addr", cfg.Runner.GatewayAddr)
	kv("consumer_id", cfg.Runner.ConsumerID)
	kv("poll_interval", cfg.Runner.PollInterval)
	kv("model", cfg.Models.Default)
	kv("memory", cfg.Memory.Path)
	kv("database", cfg.Database.Path)
	kv("openai_api_key", maskSecret(cfg.LLM.APIKey))
	kv("exa_api_key", maskSecret(cfg.Tools.ExaAPIKey))
	kv("swarms_api_key", maskSecret(cfg.Tools.SwarmsAPIKey))
	kv("wallet_private_key", maskSecret(cfg.Tools.WalletPrivateKey))
	kv("developer_command", strings.Join(cfg.Tools.DeveloperCommand, " "))
}

func tokenCmd() *cobra.Command {
	var consumerID string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a gateway consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := mintToken(cfg, consumerID, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&consumerID, "consumer", "", "consumer id (default: runner.consumer_id)")
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "token lifetime")
	return cmd
}

func mintToken(cfg *config.Config, consumerID string, ttl time.Duration) (string, error) {
	if cfg.Auth.JWTSecret == "" {
		return "", fmt.Errorf("auth.jwt_secret is not configured")
	}
	if consumerID == "" {
		consumerID = cfg.Runner.ConsumerID
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}
	return auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(consumerID, ttl)
}
