// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

// Package policy implements the decision pipeline: the cache loads and
// compiles policies from a store, the retriever narrows them to the
// candidates for a request, and the engine combines per-policy
// outcomes under deny-overrides into one Decision.
package policy

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/parapet/parapet/internal/policy/attribute"
	"github.com/parapet/parapet/internal/policy/expression"
	"github.com/parapet/parapet/internal/policy/types"
)

// Engine is the policy decision point.
type Engine struct {
	retriever *Retriever
	accessor  *attribute.Accessor
	deadline  time.Duration
	logger    *slog.Logger
}

// EngineOption configures Engine behavior.
type EngineOption func(*Engine)

// WithDeadline sets a per-decision deadline applied when the caller's
// context has none. The engine enforces no deadline unless one is
// configured here.
func WithDeadline(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.deadline = d
	}
}

// WithEngineLogger sets the logger for decision diagnostics.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an Engine over the given retriever.
func NewEngine(retriever *Retriever, opts ...EngineOption) *Engine {
	e := &Engine{
		retriever: retriever,
		accessor:  attribute.NewAccessor(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide evaluates the action request against the policy set.
//
// Candidates are combined under deny-overrides: any candidate that
// denies, or that cannot be decided, denies the request; a permit wins
// only when nothing denies; no applicable candidate is a deny with its
// own code. The error return is reserved for the engine being unable
// to decide at all: bad input, an unreachable backend with no cached
// snapshot, or the context expiring mid-evaluation.
func (e *Engine) Decide(ctx context.Context, action string, pctx *types.PolicyContext) (types.Decision, error) {
	start := time.Now()

	if err := validateRequest(action, pctx); err != nil {
		return types.Decision{}, err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && e.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.deadline)
		defer cancel()
	}

	candidates, err := e.retriever.Candidates(ctx, action, pctx)
	if err != nil {
		return types.Decision{}, err
	}

	matches := make([]types.PolicyMatch, 0, len(candidates))
	var firstPermit, firstIndeterminate string
	for _, candidate := range candidates {
		result, evalErr := candidate.Rule.Evaluate(ctx, e.accessor, pctx)
		if evalErr != nil {
			return types.Decision{}, oops.
				Code("EVALUATION_CANCELLED").
				With("policy", candidate.Meta.Name).
				Wrapf(evalErr, "decision aborted mid-evaluation")
		}

		outcome := candidateOutcome(candidate.Meta.Effect, result)
		matches = append(matches, types.PolicyMatch{
			Policy:  candidate.Meta.Name,
			Effect:  candidate.Meta.Effect,
			Outcome: outcome,
		})

		switch outcome {
		case types.OutcomeDeny:
			// Deny-overrides: the first explicit deny settles the
			// decision; remaining candidates are not evaluated.
			return e.finish(ctx, action, start, withMatches(types.NewDecision(
				types.CodeDeniedByPolicy,
				denyMessage(candidate.Meta),
				candidate.Meta.Name,
			), matches)), nil
		case types.OutcomeIndeterminate:
			if firstIndeterminate == "" {
				firstIndeterminate = candidate.Meta.Name
			}
		case types.OutcomePermit:
			if firstPermit == "" {
				firstPermit = candidate.Meta.Name
			}
		}
	}

	var decision types.Decision
	switch {
	case firstIndeterminate != "":
		// An undecidable candidate may have been a deny; it is treated
		// as one even when another candidate permits.
		decision = types.NewDecision(
			types.CodeIndeterminate,
			"policy "+firstIndeterminate+" could not be decided",
			firstIndeterminate,
		)
	case firstPermit != "":
		decision = types.NewDecision(
			types.CodeOK,
			"permitted by policy "+firstPermit,
			firstPermit,
		)
	default:
		decision = types.NewDecision(types.CodeNoApplicablePolicy, "no applicable policy", "")
	}
	return e.finish(ctx, action, start, withMatches(decision, matches)), nil
}

// finish validates, logs, and records the decision.
func (e *Engine) finish(ctx context.Context, action string, start time.Time, decision types.Decision) types.Decision {
	if err := decision.Validate(); err != nil {
		// Unreachable with NewDecision-built values; logged rather than
		// turned into a denial of a valid decision.
		e.logger.ErrorContext(ctx, "decision invariant violated", "error", err)
	}
	e.logger.DebugContext(ctx, "policy decision",
		"action", action,
		"code", decision.Code.String(),
		"policy", decision.Policy,
		"candidates", len(decision.Matches),
		"duration", time.Since(start).String(),
	)
	recordDecisionMetrics(time.Since(start), decision.Code)
	return decision
}

// denyMessage is the winning deny policy's own description when it has
// one, so callers see the policy author's wording.
func denyMessage(meta *types.Policy) string {
	if meta.Description != "" {
		return meta.Description
	}
	return "denied by policy " + meta.Name
}

// candidateOutcome maps a rule result through the policy's declared
// effect into its contribution to the combined decision.
func candidateOutcome(effect types.Effect, result expression.Result) types.Outcome {
	switch result {
	case expression.True:
		if effect == types.EffectDeny {
			return types.OutcomeDeny
		}
		return types.OutcomePermit
	case expression.False:
		return types.OutcomeNotApplicable
	default:
		return types.OutcomeIndeterminate
	}
}

func withMatches(decision types.Decision, matches []types.PolicyMatch) types.Decision {
	decision.Matches = matches
	return decision
}

// validateRequest rejects requests the engine cannot meaningfully
// evaluate before any policy work happens.
func validateRequest(action string, pctx *types.PolicyContext) error {
	if strings.TrimSpace(action) == "" {
		return oops.Code("INVALID_REQUEST").Errorf("action must be non-empty")
	}
	if pctx == nil {
		return oops.Code("INVALID_REQUEST").Errorf("policy context must be non-nil")
	}
	if pctx.Actor == nil {
		return oops.Code("INVALID_REQUEST").Errorf("policy context requires an actor")
	}
	return nil
}
