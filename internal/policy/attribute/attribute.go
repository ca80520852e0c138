// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

// Package attribute defines attribute references and the accessor that
// resolves them against a request's policy context.
package attribute

import (
	"github.com/samber/oops"
)

// Entity identifies which part of the policy context a reference
// points into.
type Entity string

// Entity constants define the valid reference targets.
const (
	EntityActor       Entity = "actor"
	EntitySubject     Entity = "subject"
	EntityEnvironment Entity = "environment"
	EntityLiteral     Entity = "literal"
)

// ParseEntity converts a string to an Entity.
func ParseEntity(s string) (Entity, error) {
	switch Entity(s) {
	case EntityActor, EntitySubject, EntityEnvironment, EntityLiteral:
		return Entity(s), nil
	default:
		return "", oops.Code("POLICY_MALFORMED").With("entity", s).Errorf("unknown attribute entity: %q", s)
	}
}

// Ref is a symbolic pointer into the request context: either a named
// attribute of an entity, or an inline literal value.
// Invariant: exactly one of Name/Literal is meaningful, and
// Entity == EntityLiteral iff the literal is set.
type Ref struct {
	Entity  Entity
	Name    string
	Literal any
}

// NamedRef creates a reference to a named attribute of an entity.
func NamedRef(entity Entity, name string) Ref {
	return Ref{Entity: entity, Name: name}
}

// LiteralRef creates a reference holding an inline literal value.
func LiteralRef(value any) Ref {
	return Ref{Entity: EntityLiteral, Literal: value}
}

// Validate checks the Ref invariant.
func (r Ref) Validate() error {
	if r.Entity == EntityLiteral {
		if r.Name != "" {
			return oops.Code("POLICY_MALFORMED").Errorf("literal reference must not carry an attribute name")
		}
		return nil
	}
	if r.Name == "" {
		return oops.Code("POLICY_MALFORMED").With("entity", string(r.Entity)).Errorf("attribute reference requires a name")
	}
	return nil
}

// IsNotResolvable reports whether err is an ATTRIBUTE_NOT_RESOLVABLE
// error from the accessor.
func IsNotResolvable(err error) bool {
	if err == nil {
		return false
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == "ATTRIBUTE_NOT_RESOLVABLE"
}

func notResolvable(entity Entity, name string) error {
	return oops.
		Code("ATTRIBUTE_NOT_RESOLVABLE").
		With("entity", string(entity)).
		With("name", name).
		Errorf("attribute %s.%s cannot be resolved", entity, name)
}
