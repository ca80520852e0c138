// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

// Package expression implements the evaluable expression tree policies
// compile to: unary, binary, and function predicates over attribute
// references, combined under Kleene three-valued logic.
package expression

import "fmt"

// Result is the tri-valued outcome of evaluating an expression.
// Indeterminate means the expression could not be soundly evaluated
// against the provided context (missing attribute, type mismatch).
type Result int

// Result constants.
const (
	False Result = iota
	True
	Indeterminate
)

var resultStrings = [...]string{"false", "true", "indeterminate"}

func (r Result) String() string {
	if r >= 0 && int(r) < len(resultStrings) {
		return resultStrings[r]
	}
	return fmt.Sprintf("unknown(%d)", int(r))
}

// FromBool lifts a bool into a Result.
func FromBool(b bool) Result {
	if b {
		return True
	}
	return False
}

// And combines two results under Kleene logic:
// false dominates, then indeterminate, then true.
func And(a, b Result) Result {
	if a == False || b == False {
		return False
	}
	if a == Indeterminate || b == Indeterminate {
		return Indeterminate
	}
	return True
}

// Or combines two results under Kleene logic:
// true dominates, then indeterminate, then false.
func Or(a, b Result) Result {
	if a == True || b == True {
		return True
	}
	if a == Indeterminate || b == Indeterminate {
		return Indeterminate
	}
	return False
}

// Not negates a result; indeterminate stays indeterminate.
func Not(a Result) Result {
	switch a {
	case True:
		return False
	case False:
		return True
	default:
		return Indeterminate
	}
}
