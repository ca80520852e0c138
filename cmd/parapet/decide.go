// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/parapet/parapet/internal/config"
	"github.com/parapet/parapet/internal/observability"
	"github.com/parapet/parapet/internal/policy"
	"github.com/parapet/parapet/internal/policy/store"
	"github.com/parapet/parapet/internal/policy/types"
	"github.com/parapet/parapet/internal/xdg"
)

// categoryKey is the reserved key in actor and subject objects that
// carries the category the policy targeting matches against.
const categoryKey = "_category"

// RequestDocument is the JSON shape of one decision request: the actor
// performing the action, the subjects it is performed on, and ambient
// environment attributes. Actor and subject objects may carry a
// "_category" key for policy targeting.
type RequestDocument struct {
	Action      string           `json:"action,omitempty"`
	Actor       map[string]any   `json:"actor"`
	Subjects    []map[string]any `json:"subjects,omitempty"`
	Environment map[string]any   `json:"environment,omitempty"`
}

// decisionOutput is the JSON the decide command prints.
type decisionOutput struct {
	Allowed bool          `json:"allowed"`
	Code    int           `json:"code"`
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Policy  string        `json:"policy,omitempty"`
	Matches []matchOutput `json:"matches,omitempty"`
}

type matchOutput struct {
	Policy  string `json:"policy"`
	Effect  string `json:"effect"`
	Outcome string `json:"outcome"`
}

// NewDecideCmd creates the decide subcommand.
func NewDecideCmd() *cobra.Command {
	var contextPath string

	cmd := &cobra.Command{
		Use:   "decide <action>",
		Short: "Evaluate one access request against the policy set",
		Long: `Evaluate an access request and print the decision as JSON.

The request context is a JSON document with actor, subjects, and
environment objects. Exit codes: 0 permit, 1 deny, 2 malformed policy
or request, 3 backend failure.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			doc, err := readRequest(contextPath, cmd.InOrStdin())
			if err != nil {
				return fail("reading request context", err)
			}
			return runDecide(cmd, cfg, args[0], doc)
		},
	}

	cmd.Flags().StringVar(&contextPath, "context", "-", `request context JSON file ("-" for stdin)`)
	return cmd
}

func runDecide(cmd *cobra.Command, cfg *config.Config, action string, doc *RequestDocument) error {
	ctx := cmd.Context()

	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return fail("opening policy store", err)
	}
	defer cleanup()

	cache := policy.NewCache(st, policy.WithTTL(cfg.CacheTTL()))
	if err := cache.Prime(ctx); err != nil {
		return fail("loading policies", err)
	}

	if cfg.Metrics.Addr != "" {
		obs := observability.NewServer(cfg.Metrics.Addr, func() bool { return true })
		if _, obsErr := obs.Start(); obsErr == nil {
			defer obs.Stop(ctx) //nolint:errcheck // best effort on exit
		}
	}

	engine := policy.NewEngine(
		policy.NewRetriever(cache, mapCategorizer{}),
		policy.WithDeadline(cfg.DecisionDeadline()),
	)
	decision, err := engine.Decide(ctx, action, doc.PolicyContext())
	if err != nil {
		return fail("deciding request", err)
	}

	if err := printDecision(cmd.OutOrStdout(), decision); err != nil {
		return fail("writing decision", err)
	}
	if !decision.Allowed() {
		return &exitError{code: exitDeny}
	}
	return nil
}

// PolicyContext converts the request document into the engine's
// context type.
func (d *RequestDocument) PolicyContext() *types.PolicyContext {
	subjects := make([]any, 0, len(d.Subjects))
	for _, s := range d.Subjects {
		subjects = append(subjects, s)
	}
	return &types.PolicyContext{
		Actor:       d.Actor,
		Subjects:    subjects,
		Environment: d.Environment,
	}
}

// mapCategorizer reads the reserved "_category" key from map-shaped
// actors and subjects.
type mapCategorizer struct{}

func (mapCategorizer) ActorCategory(actor any) string { return categoryOf(actor) }
func (mapCategorizer) SubjectCategory(sub any) string { return categoryOf(sub) }

func categoryOf(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	category, _ := m[categoryKey].(string)
	return category
}

// readRequest loads and decodes the request context document.
func readRequest(path string, stdin io.Reader) (*RequestDocument, error) {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, oops.Code("INVALID_REQUEST").With("path", path).Wrapf(err, "reading request context")
	}

	var doc RequestDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, oops.Code("INVALID_REQUEST").Wrapf(err, "parsing request context")
	}
	if doc.Actor == nil {
		return nil, oops.Code("INVALID_REQUEST").Errorf("request context requires an actor object")
	}
	return &doc, nil
}

// openStore builds the configured store. The database takes precedence
// over a policy file when both are set; with neither configured the
// XDG data directory is consulted for a policy set.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Store.DatabaseURL != "" {
		pool, err := store.OpenPool(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store.NewPostgresStore(pool), pool.Close, nil
	}
	path := cfg.Store.Path
	if path == "" {
		path = xdg.DefaultPolicyFile()
	}
	if path != "" {
		fs, err := store.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}
	return nil, nil, oops.Code("INVALID_REQUEST").Errorf("no policy store configured: set --policies or --database-url")
}

func printDecision(w io.Writer, decision types.Decision) error {
	out := decisionOutput{
		Allowed: decision.Allowed(),
		Code:    int(decision.Code),
		Status:  decision.Code.String(),
		Message: decision.Message,
		Policy:  decision.Policy,
	}
	for _, m := range decision.Matches {
		out.Matches = append(out.Matches, matchOutput{
			Policy:  m.Policy,
			Effect:  m.Effect.String(),
			Outcome: m.Outcome.String(),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
