// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package expression

import (
	"regexp"

	"github.com/samber/oops"

	"github.com/parapet/parapet/internal/policy/attribute"
)

// attributeKeys maps the operand keys of the declarative form to their
// entities, in the deterministic order operands are assigned.
var attributeKeys = []struct {
	key    string
	entity attribute.Entity
}{
	{"actor_attribute", attribute.EntityActor},
	{"subject_attribute", attribute.EntitySubject},
	{"environment_attribute", attribute.EntityEnvironment},
}

// Builder translates declarative expression records into typed,
// validated expression trees. Building is deterministic: the same
// record always produces a structurally identical tree.
type Builder struct{}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// BuildRule builds a policy's rule from its declared combinator and
// ordered expression records. Failures carry the policy name and the
// offending rule index and mark the whole load malformed.
func (b *Builder) BuildRule(policyName, condition string, records []map[string]any) (*Rule, error) {
	cond, err := ParseCondition(condition)
	if err != nil {
		return nil, oops.With("policy", policyName).Wrap(err)
	}

	if len(records) == 0 {
		return nil, malformed(policyName, 0, "rule requires at least one expression")
	}
	if cond == ConditionNot && len(records) != 1 {
		return nil, malformed(policyName, 0, "NOT condition requires exactly one expression")
	}

	exprs := make([]Expression, 0, len(records))
	for i, record := range records {
		expr, buildErr := b.buildExpression(policyName, i, record)
		if buildErr != nil {
			return nil, buildErr
		}
		exprs = append(exprs, expr)
	}

	return &Rule{Condition: cond, Expressions: exprs}, nil
}

// buildExpression disambiguates a record's shape and builds the node.
func (b *Builder) buildExpression(policyName string, index int, record map[string]any) (Expression, error) {
	if err := checkKnownKeys(policyName, index, record); err != nil {
		return nil, err
	}

	refs, err := operandRefs(policyName, index, record)
	if err != nil {
		return nil, err
	}
	literal, hasLiteral := record["value"]

	if _, isFunction := record["function"]; isFunction {
		return b.buildFunction(policyName, index, record, refs)
	}

	rawOp, hasOp := record["operator"]
	if !hasOp {
		return nil, malformed(policyName, index, "expression requires an operator or a function")
	}
	operator, ok := rawOp.(string)
	if !ok {
		return nil, malformed(policyName, index, "operator must be a string")
	}

	operandCount := len(refs)
	if hasLiteral {
		operandCount++
	}

	switch operandCount {
	case 1:
		return b.buildUnary(policyName, index, operator, refs, literal, hasLiteral)
	case 2:
		return b.buildBinary(policyName, index, operator, refs, literal, hasLiteral)
	default:
		return nil, malformed(policyName, index, "expression requires one or two operands")
	}
}

func (b *Builder) buildUnary(policyName string, index int, operator string, refs []attribute.Ref, literal any, hasLiteral bool) (Expression, error) {
	if !IsUnaryOperator(operator) {
		return nil, malformed(policyName, index, "operator %q is not unary", operator)
	}
	operand := attribute.LiteralRef(literal)
	if !hasLiteral {
		operand = refs[0]
	}
	return &Unary{Operator: operator, Operand: operand}, nil
}

func (b *Builder) buildBinary(policyName string, index int, operator string, refs []attribute.Ref, literal any, hasLiteral bool) (Expression, error) {
	if !IsBinaryOperator(operator) {
		return nil, malformed(policyName, index, "operator %q is not binary", operator)
	}
	if len(refs) == 0 {
		return nil, malformed(policyName, index, "binary expression requires at least one attribute operand")
	}

	left := refs[0]
	var right attribute.Ref
	if hasLiteral {
		right = attribute.LiteralRef(literal)
	} else {
		right = refs[1]
	}

	node := &Binary{Operator: operator, Left: left, Right: right}

	// A literal regex is compiled once here and cached on the node;
	// a bad pattern fails the load instead of surfacing at runtime.
	if operator == OpMatches && right.Entity == attribute.EntityLiteral {
		raw, ok := right.Literal.(string)
		if !ok {
			return nil, malformed(policyName, index, "matches requires a string regex literal")
		}
		compiled, compileErr := regexp.Compile(raw)
		if compileErr != nil {
			return nil, oops.
				Code("POLICY_MALFORMED").
				With("policy", policyName).
				With("rule", index).
				Wrapf(compileErr, "invalid regex literal %q", raw)
		}
		node.pattern = compiled
	}

	return node, nil
}

func (b *Builder) buildFunction(policyName string, index int, record map[string]any, refs []attribute.Ref) (Expression, error) {
	name, ok := record["function"].(string)
	if !ok {
		return nil, malformed(policyName, index, "function name must be a string")
	}
	if !IsFunction(name) {
		return nil, malformed(policyName, index, "unknown function %q", name)
	}

	rawArgs, hasArgs := record["arguments"]
	if !hasArgs {
		return nil, malformed(policyName, index, "function %q requires an arguments list", name)
	}
	literals, ok := rawArgs.([]any)
	if !ok {
		return nil, malformed(policyName, index, "function arguments must be an ordered list")
	}

	// Attribute operands come first, in entity order, followed by the
	// declared literal arguments in their written order.
	args := make([]attribute.Ref, 0, len(refs)+len(literals))
	args = append(args, refs...)
	for _, lit := range literals {
		args = append(args, attribute.LiteralRef(lit))
	}

	minArity, maxArity, _ := FunctionArity(name)
	if len(args) < minArity || (maxArity >= 0 && len(args) > maxArity) {
		return nil, malformed(policyName, index, "function %q expects between %d and %d arguments, got %d",
			name, minArity, maxArity, len(args))
	}

	return &Function{Name: name, Args: args}, nil
}

// operandRefs extracts the attribute-shaped operand keys in
// deterministic entity order.
func operandRefs(policyName string, index int, record map[string]any) ([]attribute.Ref, error) {
	var refs []attribute.Ref
	for _, ak := range attributeKeys {
		raw, present := record[ak.key]
		if !present {
			continue
		}
		name, ok := raw.(string)
		if !ok || name == "" {
			return nil, malformed(policyName, index, "%s must be a non-empty attribute name", ak.key)
		}
		refs = append(refs, attribute.NamedRef(ak.entity, name))
	}
	return refs, nil
}

// checkKnownKeys rejects records carrying keys outside the declarative
// grammar; unknown shapes never build.
func checkKnownKeys(policyName string, index int, record map[string]any) error {
	for key := range record {
		switch key {
		case "operator", "function", "arguments", "value",
			"actor_attribute", "subject_attribute", "environment_attribute":
		default:
			return malformed(policyName, index, "unknown expression key %q", key)
		}
	}
	return nil
}

func malformed(policyName string, index int, format string, args ...any) error {
	return oops.
		Code("POLICY_MALFORMED").
		With("policy", policyName).
		With("rule", index).
		Errorf(format, args...)
}
