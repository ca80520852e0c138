// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package expression

import (
	"context"
	"regexp"

	"github.com/samber/oops"

	"github.com/parapet/parapet/internal/policy/attribute"
	"github.com/parapet/parapet/internal/policy/types"
)

// Expression is one evaluable predicate node. Evaluation performs no
// I/O; all attribute lookups are local memory through the accessor.
type Expression interface {
	Evaluate(acc *attribute.Accessor, pctx *types.PolicyContext) Result
}

// Condition is the boolean combinator of a rule's expressions.
type Condition string

// Condition constants.
const (
	ConditionAnd Condition = "AND"
	ConditionOr  Condition = "OR"
	ConditionNot Condition = "NOT"
)

// ParseCondition validates a declared combinator string.
func ParseCondition(s string) (Condition, error) {
	switch Condition(s) {
	case ConditionAnd, ConditionOr, ConditionNot:
		return Condition(s), nil
	default:
		return "", oops.Code("POLICY_MALFORMED").With("condition", s).Errorf("unknown rule condition: %q", s)
	}
}

// Rule is an ordered sequence of expressions under one combinator.
// NOT requires exactly one expression; AND and OR require at least one.
type Rule struct {
	Condition   Condition
	Expressions []Expression
}

// Evaluate combines the expression results left to right under the
// rule's combinator. Cancellation is checked between expressions; a
// cancelled context is the only error this returns.
func (r *Rule) Evaluate(ctx context.Context, acc *attribute.Accessor, pctx *types.PolicyContext) (Result, error) {
	switch r.Condition {
	case ConditionNot:
		if err := ctx.Err(); err != nil {
			return Indeterminate, err
		}
		return Not(r.Expressions[0].Evaluate(acc, pctx)), nil

	case ConditionOr:
		combined := False
		for _, expr := range r.Expressions {
			if err := ctx.Err(); err != nil {
				return Indeterminate, err
			}
			combined = Or(combined, expr.Evaluate(acc, pctx))
			if combined == True {
				return True, nil
			}
		}
		return combined, nil

	default: // AND
		combined := True
		for _, expr := range r.Expressions {
			if err := ctx.Err(); err != nil {
				return Indeterminate, err
			}
			combined = And(combined, expr.Evaluate(acc, pctx))
			if combined == False {
				return False, nil
			}
		}
		return combined, nil
	}
}

// Unary is a one-operand predicate.
type Unary struct {
	Operator string
	Operand  attribute.Ref
}

// Evaluate implements Expression.
func (u *Unary) Evaluate(acc *attribute.Accessor, pctx *types.PolicyContext) Result {
	value, err := acc.Resolve(pctx, u.Operand)
	if err != nil {
		// An unresolvable operand is undecidable for every operator,
		// absence checks included; is_null tests a resolved null, not a
		// missing attribute.
		return Indeterminate
	}

	switch u.Operator {
	case OpIsNull:
		return FromBool(value == nil)
	case OpNotNull:
		return FromBool(value != nil)
	case OpTruthy:
		return truthiness(value)
	case OpFalsy:
		return Not(truthiness(value))
	case OpNot:
		return Not(truthiness(value))
	default:
		return Indeterminate
	}
}

// Binary is a two-operand relational or equality comparison.
type Binary struct {
	Operator string
	Left     attribute.Ref
	Right    attribute.Ref

	// pattern is the regex compiled at build time when Operator is
	// "matches" and the right side is a string literal.
	pattern *regexp.Regexp
}

// Evaluate implements Expression.
func (b *Binary) Evaluate(acc *attribute.Accessor, pctx *types.PolicyContext) Result {
	left, err := acc.Resolve(pctx, b.Left)
	if err != nil {
		return Indeterminate
	}

	if b.Operator == OpMatches {
		return b.evaluateMatches(acc, pctx, left)
	}

	right, err := acc.Resolve(pctx, b.Right)
	if err != nil {
		return Indeterminate
	}

	switch b.Operator {
	case OpEq:
		return valuesEqual(left, right)
	case OpNe:
		return Not(valuesEqual(left, right))
	case OpLt, OpLe, OpGt, OpGe:
		return compareOrdered(left, right, b.Operator)
	case OpIn:
		return valueInList(left, right)
	case OpNotIn:
		return Not(valueInList(left, right))
	default:
		return Indeterminate
	}
}

// evaluateMatches applies the regex comparison. The pattern is the
// build-time compiled literal when available; a pattern arriving
// through an attribute is compiled here and failures are indeterminate.
func (b *Binary) evaluateMatches(acc *attribute.Accessor, pctx *types.PolicyContext, left any) Result {
	subject, ok := left.(string)
	if !ok {
		return Indeterminate
	}

	pattern := b.pattern
	if pattern == nil {
		right, err := acc.Resolve(pctx, b.Right)
		if err != nil {
			return Indeterminate
		}
		raw, isStr := right.(string)
		if !isStr {
			return Indeterminate
		}
		compiled, compileErr := regexp.Compile(raw)
		if compileErr != nil {
			return Indeterminate
		}
		pattern = compiled
	}

	return FromBool(pattern.MatchString(subject))
}

// Function is a named predicate over an ordered argument list.
type Function struct {
	Name string
	Args []attribute.Ref
}

// Evaluate implements Expression.
func (f *Function) Evaluate(acc *attribute.Accessor, pctx *types.PolicyContext) Result {
	values := make([]any, len(f.Args))
	for i, arg := range f.Args {
		v, err := acc.Resolve(pctx, arg)
		if err != nil {
			return Indeterminate
		}
		values[i] = v
	}
	fn, ok := functionRegistry[f.Name]
	if !ok {
		return Indeterminate
	}
	return fn.eval(values)
}
