// ABOUTME: Entry point for clawswarm: messaging gateway and swarm agent
// ABOUTME: Cobra root command, config path resolution, and the startup banner

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/clawswarm/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
      _
  ___| | __ ___      _____      ____ _ _ __ _ __ ___
 / __| |/ _' \ \ /\ / / __\ \ /\ / / _' | '__| '_ ' _ \
| (__| | (_| |\ V  V /\__ \\ V  V / (_| | |  | | | | | |
 \___|_|\__,_| \_/\_/ |___/ \_/\_/ \__,_|_|  |_| |_| |_|
`

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "clawswarm",
		Short:         "Messaging gateway and multi-agent swarm",
		Long:          "clawswarm merges Telegram, Discord, WhatsApp, and Matrix into one timeline and answers messages with a director-planned agent swarm.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $CLAWSWARM_CONFIG or ~/.config/clawswarm/config.yaml)")

	root.AddCommand(gatewayCmd())
	root.AddCommand(agentCmd())
	root.AddCommand(runCmd())
	root.AddCommand(healthCmd())
	root.AddCommand(settingsCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("clawswarm %s\n", version)
		},
	}
}

// getConfigPath returns the path to the config file.
// Priority: --config > CLAWSWARM_CONFIG > XDG_CONFIG_HOME/clawswarm/config.yaml > ~/.config/clawswarm/config.yaml
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if envPath := os.Getenv("CLAWSWARM_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "clawswarm", "config.yaml")
}

// loadConfig reads the config file, or falls back to environment variables
// when no file exists.
func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg, err := config.FromEnv()
		if err != nil {
			return nil, "", fmt.Errorf("loading config from environment: %w", err)
		}
		return cfg, "(environment)", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func printBanner() {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)
}

// printStartup prints one "▶ label: value" line.
func printStartup(label, value string) {
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("%-10s %s\n", label+":", value)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		if errors.Is(err, config.ErrFatalConfig) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
