// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parapet/parapet/internal/policy"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and compile the policy set without deciding anything",
		Long: `Validate the configured policy store: every policy must pass schema
validation and compile to an expression tree. Exit code 0 means the set
is loadable; 2 means a policy is malformed; 3 means the backend failed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, cleanup, err := openStore(ctx, cfg)
			if err != nil {
				return fail("opening policy store", err)
			}
			defer cleanup()

			cache := policy.NewCache(st, policy.WithTTL(cfg.CacheTTL()))
			if err := cache.Prime(ctx); err != nil {
				return fail("validating policies", err)
			}

			snap, err := cache.Current(ctx)
			if err != nil {
				return fail("reading policy snapshot", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d policies valid\n", len(snap.Policies))
			return nil
		},
	}
}
