// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEffect(t *testing.T) {
	tests := []struct {
		input   string
		want    Effect
		wantErr bool
	}{
		{"permit", EffectPermit, false},
		{"deny", EffectDeny, false},
		{"allow", "", true},
		{"PERMIT", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseEffect(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecisionInvariant(t *testing.T) {
	permit := NewDecision(CodeOK, "permitted", "p1")
	assert.True(t, permit.Allowed())
	require.NoError(t, permit.Validate())

	for _, code := range []Code{CodeDeniedByPolicy, CodeNoApplicablePolicy, CodeIndeterminate} {
		d := NewDecision(code, "denied", "")
		assert.False(t, d.Allowed(), "code %s must deny", code)
		require.NoError(t, d.Validate())
	}
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "OK", CodeOK.String())
	assert.Equal(t, "DENIED_BY_POLICY", CodeDeniedByPolicy.String())
	assert.Equal(t, "NO_APPLICABLE_POLICY", CodeNoApplicablePolicy.String())
	assert.Equal(t, "INDETERMINATE", CodeIndeterminate.String())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "not_applicable", OutcomeNotApplicable.String())
	assert.Equal(t, "permit", OutcomePermit.String())
	assert.Equal(t, "deny", OutcomeDeny.String())
	assert.Equal(t, "indeterminate", OutcomeIndeterminate.String())
}

func TestPolicyTargetSets(t *testing.T) {
	p := &Policy{
		Name:     "edit-post",
		Effect:   EffectPermit,
		Actions:  []string{"edit-post"},
		Actors:   []string{"user"},
		Subjects: []string{"post"},
	}
	assert.True(t, p.HasAction("edit-post"))
	assert.False(t, p.HasAction("delete-post"))
	assert.True(t, p.HasActor("user"))
	assert.False(t, p.HasActor("admin"))
	assert.True(t, p.HasSubject("post"))
	assert.False(t, p.HasSubject("comment"))
}

func TestCategorizerFuncs(t *testing.T) {
	c := CategorizerFuncs{
		Actor: func(any) string { return "user" },
	}
	assert.Equal(t, "user", c.ActorCategory(struct{}{}))
	// Nil subject func maps everything to the empty category.
	assert.Equal(t, "", c.SubjectCategory(struct{}{}))
}
