// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package policy

import (
	"context"

	"github.com/samber/oops"

	"github.com/parapet/parapet/internal/policy/types"
)

// Enforcer is the error-shaped surface over the engine: callers that
// only need pass/fail get a single error value carrying the decision
// code instead of a Decision to unpack.
type Enforcer struct {
	engine *Engine
}

// NewEnforcer creates an Enforcer over the engine.
func NewEnforcer(engine *Engine) *Enforcer {
	return &Enforcer{engine: engine}
}

// Enforce evaluates the request and returns nil when permitted. A
// denial returns an ACCESS_DENIED error carrying the decision code and
// winning policy; engine failures pass through unchanged.
func (e *Enforcer) Enforce(ctx context.Context, action string, pctx *types.PolicyContext) error {
	decision, err := e.engine.Decide(ctx, action, pctx)
	if err != nil {
		return err
	}
	if decision.Allowed() {
		return nil
	}
	return oops.
		Code("ACCESS_DENIED").
		With("decision_code", decision.Code.String()).
		With("policy", decision.Policy).
		Errorf("%s", decision.Message)
}

// IsAccessDenied reports whether err is a denial from Enforce, as
// opposed to the engine failing to decide.
func IsAccessDenied(err error) bool {
	if err == nil {
		return false
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == "ACCESS_DENIED"
}
