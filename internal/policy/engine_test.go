// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parapet/parapet/internal/policy/store"
	"github.com/parapet/parapet/internal/policy/types"
	"github.com/parapet/parapet/pkg/errutil"
)

func newTestEngine(t *testing.T, docs ...*store.PolicyDocument) *Engine {
	t.Helper()
	st := &stubStore{}
	st.set(docs...)
	cache := NewCache(st)
	require.NoError(t, cache.Prime(context.Background()))
	return NewEngine(NewRetriever(cache, testCategorizer))
}

func editPostDoc() *store.PolicyDocument {
	return &store.PolicyDocument{
		Name:     "edit-post",
		Effect:   "permit",
		Actions:  []string{"edit-post"},
		Actors:   []string{"user"},
		Subjects: []string{"post"},
		Rules: store.RuleDocument{
			Condition: "AND",
			Expressions: []map[string]any{
				{"operator": "eq", "actor_attribute": "id", "subject_attribute": "authorId"},
			},
		},
	}
}

func denyIfLockedDoc() *store.PolicyDocument {
	return &store.PolicyDocument{
		Name:    "deny-if-locked",
		Effect:  "deny",
		Actions: []string{"edit-post"},
		Rules: store.RuleDocument{
			Condition: "AND",
			Expressions: []map[string]any{
				{"operator": "eq", "subject_attribute": "locked", "value": true},
			},
		},
	}
}

func editRequest(actorID, authorID int, locked bool) *types.PolicyContext {
	return &types.PolicyContext{
		Actor: map[string]any{"_category": "user", "id": actorID},
		Subjects: []any{
			map[string]any{"_category": "post", "authorId": authorID, "locked": locked},
		},
	}
}

func TestEngineOwnershipPermit(t *testing.T) {
	engine := newTestEngine(t, editPostDoc())

	decision, err := engine.Decide(context.Background(), "edit-post", editRequest(7, 7, false))
	require.NoError(t, err)
	assert.True(t, decision.Allowed())
	assert.Equal(t, types.CodeOK, decision.Code)
	assert.Equal(t, "edit-post", decision.Policy)
	assert.Contains(t, decision.Message, "edit-post")

	// A different author falls through to default deny.
	decision, err = engine.Decide(context.Background(), "edit-post", editRequest(7, 8, false))
	require.NoError(t, err)
	assert.False(t, decision.Allowed())
	assert.Equal(t, types.CodeNoApplicablePolicy, decision.Code)
}

func TestEngineDenyOverrides(t *testing.T) {
	engine := newTestEngine(t, editPostDoc(), denyIfLockedDoc())

	// The permit condition holds, but the deny policy matches too.
	decision, err := engine.Decide(context.Background(), "edit-post", editRequest(7, 7, true))
	require.NoError(t, err)
	assert.False(t, decision.Allowed())
	assert.Equal(t, types.CodeDeniedByPolicy, decision.Code)
	assert.Equal(t, "deny-if-locked", decision.Policy)
	assert.Contains(t, decision.Message, "deny-if-locked")

	// Unlocked, the owner may edit.
	decision, err = engine.Decide(context.Background(), "edit-post", editRequest(7, 7, false))
	require.NoError(t, err)
	assert.True(t, decision.Allowed())
}

func TestEngineDenyMessageFromPolicyDescription(t *testing.T) {
	described := denyIfLockedDoc()
	described.Description = "locked posts cannot be edited"
	engine := newTestEngine(t, editPostDoc(), described)

	decision, err := engine.Decide(context.Background(), "edit-post", editRequest(7, 7, true))
	require.NoError(t, err)
	assert.Equal(t, types.CodeDeniedByPolicy, decision.Code)
	assert.Equal(t, "locked posts cannot be edited", decision.Message)

	// A deny policy without a description falls back to naming itself.
	bare := newTestEngine(t, editPostDoc(), denyIfLockedDoc())
	decision, err = bare.Decide(context.Background(), "edit-post", editRequest(7, 7, true))
	require.NoError(t, err)
	assert.Equal(t, "denied by policy deny-if-locked", decision.Message)
}

func TestEngineDenyShortCircuits(t *testing.T) {
	engine := newTestEngine(t, editPostDoc(), denyIfLockedDoc())

	// Candidates are ordered by name, so deny-if-locked is evaluated
	// first and edit-post never runs.
	decision, err := engine.Decide(context.Background(), "edit-post", editRequest(7, 7, true))
	require.NoError(t, err)
	require.Len(t, decision.Matches, 1)
	assert.Equal(t, "deny-if-locked", decision.Matches[0].Policy)
	assert.Equal(t, types.OutcomeDeny, decision.Matches[0].Outcome)
}

func TestEngineDefaultDeny(t *testing.T) {
	engine := newTestEngine(t, editPostDoc(), denyIfLockedDoc())

	// No policy targets publish.
	decision, err := engine.Decide(context.Background(), "publish", editRequest(7, 7, false))
	require.NoError(t, err)
	assert.False(t, decision.Allowed())
	assert.Equal(t, types.CodeNoApplicablePolicy, decision.Code)
	assert.Empty(t, decision.Policy)
	assert.Empty(t, decision.Matches)
}

func TestEngineIndeterminateOnMissingAttribute(t *testing.T) {
	doc := editPostDoc()
	doc.Name = "published-only"
	doc.Rules.Expressions = []map[string]any{
		{"operator": "eq", "subject_attribute": "status", "value": "published"},
	}
	engine := newTestEngine(t, doc)

	// The subject carries no status attribute.
	decision, err := engine.Decide(context.Background(), "edit-post", editRequest(7, 7, false))
	require.NoError(t, err)
	assert.False(t, decision.Allowed())
	assert.Equal(t, types.CodeIndeterminate, decision.Code)
	assert.Equal(t, "published-only", decision.Policy)
	require.Len(t, decision.Matches, 1)
	assert.Equal(t, types.OutcomeIndeterminate, decision.Matches[0].Outcome)
}

func TestEngineIndeterminateOverridesPermit(t *testing.T) {
	broken := editPostDoc()
	broken.Name = "broken"
	broken.Rules.Expressions = []map[string]any{
		{"operator": "eq", "subject_attribute": "status", "value": "published"},
	}
	engine := newTestEngine(t, editPostDoc(), broken)

	// edit-post permits, but broken cannot be decided; under
	// deny-overrides the undecidable candidate wins.
	decision, err := engine.Decide(context.Background(), "edit-post", editRequest(7, 7, false))
	require.NoError(t, err)
	assert.False(t, decision.Allowed())
	assert.Equal(t, types.CodeIndeterminate, decision.Code)
	assert.Equal(t, "broken", decision.Policy)
	require.Len(t, decision.Matches, 2)
}

func TestEngineBusinessHours(t *testing.T) {
	doc := &store.PolicyDocument{
		Name:    "business-hours",
		Effect:  "permit",
		Actions: []string{"*"},
		Rules: store.RuleDocument{
			Condition: "AND",
			Expressions: []map[string]any{
				{"function": "isBetween", "environment_attribute": "hour", "arguments": []any{9, 17}},
			},
		},
	}
	engine := newTestEngine(t, doc)

	request := func(hour int) *types.PolicyContext {
		return &types.PolicyContext{
			Actor:       map[string]any{"id": 1},
			Environment: map[string]any{"hour": hour},
		}
	}

	decision, err := engine.Decide(context.Background(), "anything", request(10))
	require.NoError(t, err)
	assert.True(t, decision.Allowed())

	decision, err = engine.Decide(context.Background(), "anything", request(22))
	require.NoError(t, err)
	assert.False(t, decision.Allowed())
	assert.Equal(t, types.CodeNoApplicablePolicy, decision.Code)
}

func TestEngineDeterminism(t *testing.T) {
	engine := newTestEngine(t, editPostDoc(), denyIfLockedDoc())
	pctx := editRequest(7, 7, true)

	first, err := engine.Decide(context.Background(), "edit-post", pctx)
	require.NoError(t, err)
	for range 5 {
		next, nextErr := engine.Decide(context.Background(), "edit-post", pctx)
		require.NoError(t, nextErr)
		assert.Equal(t, first.Code, next.Code)
		assert.Equal(t, first.Policy, next.Policy)
		assert.Equal(t, first.Matches, next.Matches)
	}
}

func TestEngineDoesNotMutateContext(t *testing.T) {
	engine := newTestEngine(t, editPostDoc())

	actor := map[string]any{"_category": "user", "id": 7}
	subject := map[string]any{"_category": "post", "authorId": 7, "locked": false}
	env := map[string]any{"hour": 10}
	pctx := &types.PolicyContext{Actor: actor, Subjects: []any{subject}, Environment: env}

	_, err := engine.Decide(context.Background(), "edit-post", pctx)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"_category": "user", "id": 7}, actor)
	assert.Equal(t, map[string]any{"_category": "post", "authorId": 7, "locked": false}, subject)
	assert.Equal(t, map[string]any{"hour": 10}, env)
}

func TestEngineRejectsInvalidRequests(t *testing.T) {
	engine := newTestEngine(t, editPostDoc())
	valid := editRequest(7, 7, false)

	tests := []struct {
		name   string
		action string
		pctx   *types.PolicyContext
	}{
		{"empty action", "", valid},
		{"blank action", "   ", valid},
		{"nil context", "edit-post", nil},
		{"nil actor", "edit-post", &types.PolicyContext{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Decide(context.Background(), tt.action, tt.pctx)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "INVALID_REQUEST")
		})
	}
}

func TestEngineCancellation(t *testing.T) {
	engine := newTestEngine(t, editPostDoc())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Decide(ctx, "edit-post", editRequest(7, 7, false))
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "EVALUATION_CANCELLED")
}

func TestEngineConfiguredDeadline(t *testing.T) {
	engine := newTestEngine(t, editPostDoc())

	// A configured deadline that expires immediately aborts the
	// evaluation.
	slow := NewEngine(engine.retriever, WithDeadline(time.Nanosecond))
	_, err := slow.Decide(context.Background(), "edit-post", editRequest(7, 7, false))
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "EVALUATION_CANCELLED")
}

func TestEngineNoDeadlineByDefault(t *testing.T) {
	engine := newTestEngine(t, editPostDoc())

	// Without WithDeadline the engine imposes no time bound of its own;
	// only the caller's context can abort a decision.
	assert.Zero(t, engine.deadline)
	decision, err := engine.Decide(context.Background(), "edit-post", editRequest(7, 7, false))
	require.NoError(t, err)
	assert.True(t, decision.Allowed())
}

func TestEngineMultipleSubjects(t *testing.T) {
	engine := newTestEngine(t, editPostDoc())

	// The actor owns the second subject; subject attribute references
	// resolve against the first subject that carries the attribute.
	pctx := &types.PolicyContext{
		Actor: map[string]any{"_category": "user", "id": 7},
		Subjects: []any{
			map[string]any{"_category": "post", "authorId": 7},
			map[string]any{"_category": "post", "authorId": 9},
		},
	}
	decision, err := engine.Decide(context.Background(), "edit-post", pctx)
	require.NoError(t, err)
	assert.True(t, decision.Allowed())
}

func TestEnforcerPermits(t *testing.T) {
	enforcer := NewEnforcer(newTestEngine(t, editPostDoc()))
	err := enforcer.Enforce(context.Background(), "edit-post", editRequest(7, 7, false))
	assert.NoError(t, err)
}

func TestEnforcerDenies(t *testing.T) {
	enforcer := NewEnforcer(newTestEngine(t, editPostDoc(), denyIfLockedDoc()))

	err := enforcer.Enforce(context.Background(), "edit-post", editRequest(7, 7, true))
	require.Error(t, err)
	assert.True(t, IsAccessDenied(err))
	errutil.AssertErrorCode(t, err, "ACCESS_DENIED")
	errutil.AssertErrorContext(t, err, "decision_code", "DENIED_BY_POLICY")
	errutil.AssertErrorContext(t, err, "policy", "deny-if-locked")
}

func TestEnforcerPassesEngineErrorsThrough(t *testing.T) {
	enforcer := NewEnforcer(newTestEngine(t, editPostDoc()))

	err := enforcer.Enforce(context.Background(), "", editRequest(7, 7, false))
	require.Error(t, err)
	assert.False(t, IsAccessDenied(err))
	errutil.AssertErrorCode(t, err, "INVALID_REQUEST")
}

func TestIsAccessDenied(t *testing.T) {
	assert.False(t, IsAccessDenied(nil))
	assert.False(t, IsAccessDenied(context.Canceled))
}
