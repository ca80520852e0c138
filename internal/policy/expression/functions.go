// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package expression

import "strings"

// Function names.
const (
	FnStartsWith = "startsWith"
	FnEndsWith   = "endsWith"
	FnContains   = "contains"
	FnIsBetween  = "isBetween"
	FnHasAny     = "hasAny"
	FnHasAll     = "hasAll"
)

// functionSpec pairs a function's evaluator with its arity contract.
// minArity == maxArity for fixed-arity functions; maxArity < 0 means
// unbounded.
type functionSpec struct {
	minArity int
	maxArity int
	eval     func(args []any) Result
}

// functionRegistry is the closed registry of named predicates.
var functionRegistry = map[string]functionSpec{
	FnStartsWith: {2, 2, evalStartsWith},
	FnEndsWith:   {2, 2, evalEndsWith},
	FnContains:   {2, 2, evalContains},
	FnIsBetween:  {3, 3, evalIsBetween},
	FnHasAny:     {2, -1, evalHasAny},
	FnHasAll:     {2, -1, evalHasAll},
}

// FunctionArity returns the arity bounds for a registered function.
func FunctionArity(name string) (minArity, maxArity int, ok bool) {
	spec, found := functionRegistry[name]
	if !found {
		return 0, 0, false
	}
	return spec.minArity, spec.maxArity, true
}

// IsFunction reports whether name is a registered function.
func IsFunction(name string) bool {
	_, ok := functionRegistry[name]
	return ok
}

func evalStartsWith(args []any) Result {
	s, sok := args[0].(string)
	prefix, pok := args[1].(string)
	if !sok || !pok {
		return Indeterminate
	}
	return FromBool(strings.HasPrefix(s, prefix))
}

func evalEndsWith(args []any) Result {
	s, sok := args[0].(string)
	suffix, pok := args[1].(string)
	if !sok || !pok {
		return Indeterminate
	}
	return FromBool(strings.HasSuffix(s, suffix))
}

func evalContains(args []any) Result {
	// Strings test substring containment; lists test membership.
	if elems, isList := toList(args[0]); isList {
		for _, elem := range elems {
			if valuesEqual(elem, args[1]) == True {
				return True
			}
		}
		return False
	}
	s, sok := args[0].(string)
	sub, bok := args[1].(string)
	if !sok || !bok {
		return Indeterminate
	}
	return FromBool(strings.Contains(s, sub))
}

// evalIsBetween checks low <= value <= high over a numeric or string
// triple. Bounds are inclusive.
func evalIsBetween(args []any) Result {
	value, low, high := args[0], args[1], args[2]
	return And(
		compareOrdered(value, low, OpGe),
		compareOrdered(value, high, OpLe),
	)
}

// evalHasAny checks that the first argument, a list, contains at least
// one of the remaining arguments.
func evalHasAny(args []any) Result {
	elems, ok := toList(args[0])
	if !ok {
		return Indeterminate
	}
	for _, needle := range args[1:] {
		for _, elem := range elems {
			if valuesEqual(elem, needle) == True {
				return True
			}
		}
	}
	return False
}

// evalHasAll checks that the first argument, a list, contains every one
// of the remaining arguments.
func evalHasAll(args []any) Result {
	elems, ok := toList(args[0])
	if !ok {
		return Indeterminate
	}
	for _, needle := range args[1:] {
		found := false
		for _, elem := range elems {
			if valuesEqual(elem, needle) == True {
				found = true
				break
			}
		}
		if !found {
			return False
		}
	}
	return True
}
