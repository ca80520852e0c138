// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

// Package types defines the core types for the ABAC policy engine.
package types

import "fmt"

// Effect is what a policy declares should happen when it matches.
type Effect string

// Effect constants define the valid policy effect declarations.
const (
	EffectPermit Effect = "permit"
	EffectDeny   Effect = "deny"
)

// String returns the underlying string value for serialization.
func (e Effect) String() string {
	return string(e)
}

// ParseEffect converts a declared effect string into an Effect.
// Anything other than the two literals is rejected.
func ParseEffect(s string) (Effect, error) {
	switch Effect(s) {
	case EffectPermit, EffectDeny:
		return Effect(s), nil
	default:
		return "", fmt.Errorf("unknown effect: %q", s)
	}
}

// Outcome is the per-policy result of evaluating one candidate
// against a request context.
type Outcome int

// Outcome constants define the possible per-candidate results.
const (
	OutcomeNotApplicable Outcome = iota // not_applicable
	OutcomePermit                       // permit
	OutcomeDeny                         // deny
	OutcomeIndeterminate                // indeterminate
)

var outcomeStrings = [...]string{
	"not_applicable",
	"permit",
	"deny",
	"indeterminate",
}

func (o Outcome) String() string {
	if o >= 0 && int(o) < len(outcomeStrings) {
		return outcomeStrings[o]
	}
	return fmt.Sprintf("unknown(%d)", int(o))
}

// Code is a stable numeric decision code. Zero means allowed; every
// deny carries a non-zero code identifying why.
type Code int

// Code constants define the stable decision codes.
const (
	CodeOK                 Code = 0
	CodeDeniedByPolicy     Code = 10
	CodeNoApplicablePolicy Code = 20
	CodeIndeterminate      Code = 30
)

var codeStrings = map[Code]string{
	CodeOK:                 "OK",
	CodeDeniedByPolicy:     "DENIED_BY_POLICY",
	CodeNoApplicablePolicy: "NO_APPLICABLE_POLICY",
	CodeIndeterminate:      "INDETERMINATE",
}

func (c Code) String() string {
	if s, ok := codeStrings[c]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", int(c))
}

// Decision is the combined result of evaluating an action request
// against the policy set. The allowed field is unexported to prevent
// invariant bypass: Allowed() is true iff Code == CodeOK.
type Decision struct {
	allowed bool
	Code    Code
	Message string
	// Policy names the policy whose effect won the combination,
	// empty for default-deny outcomes.
	Policy string
	// Matches records every candidate outcome in retrieval order.
	Matches []PolicyMatch
}

// NewDecision creates a Decision with the allowed field set
// consistently from the code.
func NewDecision(code Code, message, policy string) Decision {
	return Decision{
		allowed: code == CodeOK,
		Code:    code,
		Message: message,
		Policy:  policy,
	}
}

// Allowed reports whether the decision grants access.
func (d Decision) Allowed() bool {
	return d.allowed
}

// Validate checks the Decision invariant: allowed iff Code == CodeOK.
func (d Decision) Validate() error {
	if d.allowed != (d.Code == CodeOK) {
		return fmt.Errorf("decision invariant violated: allowed=%v but code=%s", d.allowed, d.Code)
	}
	return nil
}

// PolicyMatch records that a candidate policy was evaluated and what
// it contributed to the combined decision.
type PolicyMatch struct {
	Policy  string
	Effect  Effect
	Outcome Outcome
}

// Policy is the immutable metadata of one named policy. The compiled
// rule is paired with it by the cache; see policy.CachedPolicy.
type Policy struct {
	Name        string
	Description string
	Effect      Effect
	// Declared target sets. An empty set matches any value in that
	// dimension.
	Actions  []string
	Actors   []string
	Subjects []string
}

// HasAction reports whether the policy declares the given action.
func (p *Policy) HasAction(name string) bool {
	return containsString(p.Actions, name)
}

// HasActor reports whether the policy declares the given actor category.
func (p *Policy) HasActor(name string) bool {
	return containsString(p.Actors, name)
}

// HasSubject reports whether the policy declares the given subject category.
func (p *Policy) HasSubject(name string) bool {
	return containsString(p.Subjects, name)
}

func containsString(set []string, value string) bool {
	for _, s := range set {
		if s == value {
			return true
		}
	}
	return false
}

// PolicyContext carries the request-scoped values policies evaluate
// against. It is immutable for the duration of one decision: the
// engine never mutates actor, subjects, or environment.
type PolicyContext struct {
	// Actor is the attribute-bearing value performing the action.
	Actor any
	// Subjects are the values the action is performed on, in caller order.
	Subjects []any
	// Environment maps string keys to scalars or attribute-bearing values.
	Environment map[string]any
}

// Categorizer maps caller values to the free-form category strings
// policies are authored in. It decouples policy text from concrete
// type names; callers provide an implementation at engine construction.
type Categorizer interface {
	ActorCategory(actor any) string
	SubjectCategory(subject any) string
}

// CategorizerFuncs adapts two plain functions into a Categorizer.
type CategorizerFuncs struct {
	Actor   func(any) string
	Subject func(any) string
}

// ActorCategory implements Categorizer.
func (c CategorizerFuncs) ActorCategory(actor any) string {
	if c.Actor == nil {
		return ""
	}
	return c.Actor(actor)
}

// SubjectCategory implements Categorizer.
func (c CategorizerFuncs) SubjectCategory(subject any) string {
	if c.Subject == nil {
		return ""
	}
	return c.Subject(subject)
}
