// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/parapet/parapet/internal/config"
	"github.com/parapet/parapet/internal/logging"
	"github.com/parapet/parapet/internal/xdg"
	"github.com/parapet/parapet/pkg/errutil"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Parapet CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parapet",
		Short: "Parapet - attribute-based access control engine",
		Long: `Parapet evaluates attribute-based access control policies.
Policies live in a JSON or YAML file or a PostgreSQL database; decisions
combine under deny-overrides with a default deny.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	cmd.PersistentFlags().String("policies", "", "policy file path (.json, .yaml, or .yml)")
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL policy store URL")
	cmd.PersistentFlags().Int("cache-ttl", 0, "policy cache TTL in seconds")
	cmd.PersistentFlags().Int("deadline-ms", 0, "per-decision deadline in milliseconds")
	cmd.PersistentFlags().String("log-format", "", "log format: json or text")
	cmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().String("metrics-addr", "", "observability listen address (empty disables)")

	cmd.AddCommand(NewDecideCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewSchemaCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// loadConfig resolves the effective configuration for a command and
// installs the default logger. Without --config the XDG config
// directory is consulted for a config.yaml.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configFile
	if path == "" {
		path = xdg.DefaultConfigFile()
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		errutil.LogError(slog.Default(), "configuration load failed", err)
		return nil, err
	}
	logging.SetDefault("parapet", version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))
	return cfg, nil
}

// fail logs err and returns it so Execute propagates the exit code.
func fail(msg string, err error) error {
	errutil.LogError(slog.Default(), msg, err)
	return err
}

func init() {
	// Commands run before loadConfig still need a sane logger.
	logging.SetDefault("parapet", version, config.DefaultLogFormat, logging.ParseLevel(config.DefaultLogLevel))
}
