// ABOUTME: gateway command: builds platform adapters from config and runs the gateway
// ABOUTME: Adapters with missing credentials are disabled instead of failing startup

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/clawswarm/internal/adapter"
	"github.com/2389/clawswarm/internal/adapter/discord"
	"github.com/2389/clawswarm/internal/adapter/matrix"
	"github.com/2389/clawswarm/internal/adapter/telegram"
	"github.com/2389/clawswarm/internal/adapter/whatsapp"
	"github.com/2389/clawswarm/internal/config"
	"github.com/2389/clawswarm/internal/gateway"
	"github.com/2389/clawswarm/internal/message"
	"github.com/2389/clawswarm/internal/telemetry"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the messaging gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			printBanner()
			printGatewayInfo(cfg, path)
			logger := defaultLogger(cfg)

			shutdown, err := telemetry.Setup(cmd.Context(), cfg.Telemetry, version, logger)
			if err != nil {
				return err
			}
			defer flushTelemetry(shutdown, logger)

			return runGateway(cmd.Context(), cfg, logger)
		},
	}
}

func printGatewayInfo(cfg *config.Config, path string) {
	printStartup("Config", path)
	if cfg.Tailscale.Enabled {
		mode := ""
		switch {
		case cfg.Tailscale.Funnel:
			mode = color.YellowString(" [funnel]")
		case cfg.Tailscale.HTTPS:
			mode = color.CyanString(" [https]")
		}
		printStartup("Tailscale", cfg.Tailscale.Hostname+mode)
	} else {
		printStartup("gRPC", cfg.Server.GRPCAddr)
		printStartup("HTTP", cfg.Server.HTTPAddr)
	}
	for _, st := range cfg.PlatformStatuses() {
		state := color.GreenString("enabled")
		if !st.Enabled {
			state = color.HiBlackString("disabled")
		}
		printStartup(st.Platform.String(), state)
	}
	fmt.Println()
}

func runGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting clawswarm gateway",
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	adapters := buildAdapters(cfg, logger)
	gw, err := gateway.New(cfg, adapters, logger, gateway.WithVersion(version))
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

// buildAdapters creates one adapter per platform. A platform whose
// credentials are missing or rejected is logged and left out.
func buildAdapters(cfg *config.Config, logger *slog.Logger) []adapter.Adapter {
	var out []adapter.Adapter
	for _, st := range cfg.PlatformStatuses() {
		if !st.Enabled {
			logger.Info("platform disabled", "platform", st.Platform, "reason", st.Reason)
			continue
		}
		a, err := newAdapter(cfg, st, logger)
		if err != nil {
			logger.Error("platform disabled", "platform", st.Platform, "error", err)
			continue
		}
		out = append(out, a)
	}
	return out
}

// senders returns the adapters that can also deliver replies.
func senders(adapters []adapter.Adapter) []adapter.Sender {
	var out []adapter.Sender
	for _, a := range adapters {
		if s, ok := a.(adapter.Sender); ok {
			out = append(out, s)
		}
	}
	return out
}

func newAdapter(cfg *config.Config, st config.PlatformStatus, logger *slog.Logger) (adapter.Adapter, error) {
	p := cfg.Platforms
	switch st.Platform {
	case message.PlatformTelegram:
		return telegram.New(telegram.Config{
			Token:       p.Telegram.BotToken,
			PollTimeout: p.Telegram.PollTimeout,
			APIServer:   p.Telegram.APIServer,
		}, logger)
	case message.PlatformDiscord:
		return discord.New(discord.Config{
			Token:      p.Discord.BotToken,
			ChannelIDs: p.Discord.ChannelIDs,
		}, logger)
	case message.PlatformWhatsApp:
		return whatsapp.New(whatsapp.Config{
			AccessToken:   p.WhatsApp.AccessToken,
			PhoneNumberID: p.WhatsApp.PhoneNumberID,
			GraphURL:      p.WhatsApp.GraphURL,
		}, logger), nil
	case message.PlatformMatrix:
		return matrix.New(matrix.Config{
			Homeserver:   p.Matrix.Homeserver,
			UserID:       p.Matrix.UserID,
			AccessToken:  p.Matrix.AccessToken,
			AllowedRooms: p.Matrix.AllowedRooms,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: %s", adapter.ErrDisabled, st.Platform)
	}
}

func flushTelemetry(shutdown telemetry.ShutdownFunc, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("flushing traces failed", "error", err)
	}
}
