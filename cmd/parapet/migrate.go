// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package main

import (
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/parapet/parapet/internal/policy/store"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply policy store schema migrations",
		Long:  `Apply all pending PostgreSQL schema migrations for the policy store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Store.DatabaseURL == "" {
				return fail("resolving database", oops.
					Code("INVALID_REQUEST").
					Errorf("migrate requires --database-url or ABAC_STORE_DATABASE_URL"))
			}

			if err := store.Migrate(cfg.Store.DatabaseURL); err != nil {
				return fail("applying migrations", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
