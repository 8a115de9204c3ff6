// ABOUTME: agent command: wires memory, tools, the orchestration engine, and the runner
// ABOUTME: Polls the gateway on a ticker and answers each message through the replier

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/2389/clawswarm/internal/config"
	"github.com/2389/clawswarm/internal/gatewayrpc"
	"github.com/2389/clawswarm/internal/llm"
	"github.com/2389/clawswarm/internal/memory"
	"github.com/2389/clawswarm/internal/message"
	"github.com/2389/clawswarm/internal/orchestration"
	"github.com/2389/clawswarm/internal/replier"
	"github.com/2389/clawswarm/internal/runner"
	"github.com/2389/clawswarm/internal/store"
	"github.com/2389/clawswarm/internal/telemetry"
	"github.com/2389/clawswarm/internal/tools"
)

func agentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run the swarm agent against a gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			printBanner()
			printStartup("Config", path)
			printStartup("Gateway", cfg.Runner.GatewayAddr)
			printStartup("Model", cfg.Models.Default)
			printStartup("Memory", cfg.Memory.Path)
			fmt.Println()
			logger := defaultLogger(cfg)

			shutdown, err := telemetry.Setup(cmd.Context(), cfg.Telemetry, version, logger)
			if err != nil {
				return err
			}
			defer flushTelemetry(shutdown, logger)

			return runAgent(cmd.Context(), cfg, logger)
		},
	}
}

// runnerPlatforms parses the runner's platform filter. Empty means all.
func runnerPlatforms(names []string) ([]message.Platform, error) {
	out := make([]message.Platform, 0, len(names))
	for _, name := range names {
		p, err := message.ParsePlatform(name)
		if err != nil {
			return nil, fmt.Errorf("%w: runner.platforms: %w", config.ErrFatalConfig, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func runAgent(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("%w: llm.api_key (OPENAI_API_KEY) is required for the agent", config.ErrFatalConfig)
	}
	platforms, err := runnerPlatforms(cfg.Runner.Platforms)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	client := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
	})

	mem := memory.New(memory.Config{
		Path:     cfg.Memory.Path,
		MaxChars: cfg.Memory.MaxChars,
		TopK:     cfg.Memory.TopK,
		Embedder: client,
		Index:    db,
		Logger:   logger,
	})

	engine := orchestration.NewEngine(orchestration.Config{
		LLM:    client,
		Models: cfg.Models,
		Search: tools.NewExa(tools.ExaConfig{
			APIKey:  cfg.Tools.ExaAPIKey,
			BaseURL: cfg.Tools.ExaBaseURL,
		}),
		Tokens: tools.NewSwarms(tools.SwarmsConfig{
			APIKey:     cfg.Tools.SwarmsAPIKey,
			PrivateKey: cfg.Tools.WalletPrivateKey,
			BaseURL:    cfg.Tools.SwarmsBaseURL,
		}),
		Developer: tools.NewDeveloper(tools.DeveloperConfig{
			Command:    cfg.Tools.DeveloperCommand,
			SandboxDir: cfg.Tools.SandboxDir,
			Timeout:    cfg.Tools.DeveloperTimeout,
		}),
		Logger: logger,
	})

	rep := replier.New(replier.Config{
		MaxAttempts: cfg.Replier.MaxAttempts,
		Rate:        cfg.Replier.Rate,
		Burst:       cfg.Replier.Burst,
		BackoffBase: cfg.Replier.BackoffBase,
		Logger:      logger,
	}, senders(buildAdapters(cfg, logger))...)
	if len(rep.Platforms()) == 0 {
		logger.Warn("no reply platforms configured, replies will fail")
	}

	gw, err := gatewayrpc.Dial(gatewayrpc.DialConfig{
		Addr:  cfg.Runner.GatewayAddr,
		Token: cfg.Runner.GatewayToken,
		TLS:   cfg.Runner.GatewayTLS,
	})
	if err != nil {
		return fmt.Errorf("dialing gateway: %w", err)
	}
	defer gw.Close()

	r := runner.New(runner.Config{
		ConsumerID:  cfg.Runner.ConsumerID,
		MaxMessages: cfg.Runner.MaxMessages,
		Platforms:   platforms,
		TickTimeout: cfg.Runner.TickTimeout,
		Gateway:     gw,
		Engine:      engine,
		Memory:      mem,
		Replier:     rep,
		Cursors:     db,
		Turns:       db,
		Logger:      logger,
	})

	logger.Info("starting clawswarm agent",
		"gateway_addr", cfg.Runner.GatewayAddr,
		"consumer_id", cfg.Runner.ConsumerID,
		"poll_interval", cfg.Runner.PollInterval,
		"reply_platforms", rep.Platforms(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Without the watcher, external edits are only seen after a restart.
		if err := mem.Watch(gctx); err != nil {
			logger.Warn("memory watcher stopped", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		return r.Run(gctx, runner.NewTicker(cfg.Runner.PollInterval))
	})
	return g.Wait()
}
