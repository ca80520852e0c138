// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package main

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/parapet/parapet/internal/policy/store"
)

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	var request bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the policy set JSON Schema",
		Long: `Print the JSON Schema that policy store files are validated against.
With --request, print the schema of the decide command's request
context document instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !request {
				fmt.Fprintln(cmd.OutOrStdout(), string(store.SchemaJSON()))
				return nil
			}

			data, err := generateRequestSchema()
			if err != nil {
				return fail("generating request schema", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&request, "request", false, "print the request context schema")
	return cmd
}

// generateRequestSchema reflects the request document into a JSON Schema.
func generateRequestSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&RequestDocument{})
	schema.ID = "https://parapet.dev/schemas/request.schema.json"
	schema.Title = "Parapet Decision Request"
	schema.Description = "Schema for the decide command's request context document"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Wrapf(err, "marshaling request schema")
	}
	return data, nil
}
