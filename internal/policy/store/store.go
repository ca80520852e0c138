// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

// Package store defines the read contract over policy persistence and
// the JSON/YAML file, in-memory, and PostgreSQL backends.
//
// A backend deals in PolicyDocument, the canonical interchange form; the
// engine's cache compiles documents into evaluable policies on load.
package store

import (
	"context"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"

	"github.com/parapet/parapet/internal/policy/types"
)

// FormatConstraint is the policy file format versions this engine reads.
// A file may omit the version field entirely.
var FormatConstraint = mustConstraint("^1")

// RuleDocument is the declarative form of a policy's rule.
type RuleDocument struct {
	Condition   string           `json:"condition" yaml:"condition"`
	Expressions []map[string]any `json:"expressions" yaml:"expressions"`
}

// PolicyDocument is the canonical interchange form of one policy.
type PolicyDocument struct {
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Effect      string       `json:"effect" yaml:"effect"`
	Actions     []string     `json:"actions,omitempty" yaml:"actions,omitempty"`
	Actors      []string     `json:"actors,omitempty" yaml:"actors,omitempty"`
	Subjects    []string     `json:"subjects,omitempty" yaml:"subjects,omitempty"`
	Rules       RuleDocument `json:"rules" yaml:"rules"`
}

// SetDocument is the root object of a policy store file.
type SetDocument struct {
	Version  string            `json:"version,omitempty" yaml:"version,omitempty"`
	Policies []*PolicyDocument `json:"policies" yaml:"policies"`
}

// Store is the read contract the engine consumes. Backends must be
// idempotent and repeatable on LoadAll within a process.
type Store interface {
	// LoadAll returns every policy in the backend. A load failure must
	// not partially succeed: it is all documents or an error.
	LoadAll(ctx context.Context) ([]*PolicyDocument, error)
	// LoadByName returns the named policy or a POLICY_NOT_FOUND error.
	LoadByName(ctx context.Context, name string) (*PolicyDocument, error)
}

// Writer is the optional write surface. The engine itself never writes;
// this is a thin forwarder for administration tooling.
type Writer interface {
	Save(ctx context.Context, doc *PolicyDocument) error
	Delete(ctx context.Context, name string) error
}

// Meta converts the document's metadata into the engine's policy type,
// validating the declared effect and name.
func (d *PolicyDocument) Meta() (*types.Policy, error) {
	if d.Name == "" {
		return nil, oops.Code("POLICY_MALFORMED").Errorf("policy name must be non-empty")
	}
	effect, err := types.ParseEffect(d.Effect)
	if err != nil {
		return nil, oops.Code("POLICY_MALFORMED").With("policy", d.Name).Wrap(err)
	}
	return &types.Policy{
		Name:        d.Name,
		Description: d.Description,
		Effect:      effect,
		Actions:     d.Actions,
		Actors:      d.Actors,
		Subjects:    d.Subjects,
	}, nil
}

// ValidateSet checks set-level invariants: a supported format version
// and unique policy names.
func ValidateSet(set *SetDocument) error {
	if set.Version != "" {
		version, err := semver.NewVersion(set.Version)
		if err != nil {
			return oops.Code("POLICY_MALFORMED").With("version", set.Version).Wrapf(err, "invalid policy file version")
		}
		if !FormatConstraint.Check(version) {
			return oops.
				Code("POLICY_MALFORMED").
				With("version", set.Version).
				Errorf("unsupported policy file version %s (supported: %s)", set.Version, FormatConstraint)
		}
	}

	seen := make(map[string]struct{}, len(set.Policies))
	for _, doc := range set.Policies {
		if doc == nil || doc.Name == "" {
			return oops.Code("POLICY_MALFORMED").Errorf("policy name must be non-empty")
		}
		if _, dup := seen[doc.Name]; dup {
			return oops.Code("POLICY_MALFORMED").With("policy", doc.Name).Errorf("duplicate policy name %q", doc.Name)
		}
		seen[doc.Name] = struct{}{}
	}
	return nil
}

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}
