// ABOUTME: run command: gateway and agent in one process
// ABOUTME: Either side failing stops the other

package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/2389/clawswarm/internal/auth"
	"github.com/2389/clawswarm/internal/config"
	"github.com/2389/clawswarm/internal/telemetry"
)

// localTokenTTL covers one process lifetime.
const localTokenTTL = 365 * 24 * time.Hour

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the gateway and the agent together",
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

			if err := localGateway(cfg); err != nil {
				return err
			}
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				if err := runGateway(ctx, cfg, logger); err != nil {
					return fmt.Errorf("gateway: %w", err)
				}
				return context.Canceled
			})
			g.Go(func() error {
				if err := runAgent(ctx, cfg, logger); err != nil {
					return fmt.Errorf("agent: %w", err)
				}
				return context.Canceled
			})
			if err := g.Wait(); err != nil && cmd.Context().Err() == nil {
				return err
			}
			return nil
		},
	}
}

// localGateway points the runner at the in-process gateway when the runner
// address was left at its default, and mints the runner's token when auth is
// on and none was configured.
func localGateway(cfg *config.Config) error {
	if cfg.Runner.GatewayAddr == "localhost:50051" && !cfg.Tailscale.Enabled {
		if _, port, err := net.SplitHostPort(cfg.Server.GRPCAddr); err == nil {
			cfg.Runner.GatewayAddr = net.JoinHostPort("localhost", port)
			cfg.Runner.GatewayTLS = cfg.Server.TLSEnabled()
		}
	}
	if cfg.Auth.JWTSecret != "" && cfg.Runner.GatewayToken == "" {
		token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(cfg.Runner.ConsumerID, localTokenTTL)
		if err != nil {
			return fmt.Errorf("generating runner token: %w", err)
		}
		cfg.Runner.GatewayToken = token
	}
	return nil
}
