// ABOUTME: Entry point for creatio-gateway, the Creatio CRM MCP gateway
// ABOUTME: Builds the cobra command tree and runs it under a signal-aware context

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/creatio-gateway/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "creatio-gateway",
		Short:         "MCP gateway for Creatio CRM accounts",
		Long:          "creatio-gateway exposes Creatio CRM account operations as MCP tools over SSE, with a browser dashboard running the same tools.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file (default $"+config.EnvConfigPath+" or ~/.config/creatio-gateway/config.yaml)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newHealthCmd(opts),
		newToolsCmd(),
		newTokenCmd(opts),
		newVersionCmd(),
	)

	return rootCmd
}

// loadConfig resolves and loads the config file. A missing file at the
// default location yields defaults; a missing file named with --config is an error.
func (o *rootOptions) loadConfig() (*config.Config, string, error) {
	path := o.configPath
	explicit := path != ""
	if !explicit {
		path = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return config.Default(), "", nil
	}
	return nil, path, fmt.Errorf("loading config: %w", err)
}
