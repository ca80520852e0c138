// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package expression

import "reflect"

// Binary operator names.
const (
	OpEq      = "eq"
	OpNe      = "ne"
	OpLt      = "lt"
	OpLe      = "le"
	OpGt      = "gt"
	OpGe      = "ge"
	OpIn      = "in"
	OpNotIn   = "not_in"
	OpMatches = "matches"
)

// Unary operator names.
const (
	OpIsNull  = "is_null"
	OpNotNull = "not_null"
	OpTruthy  = "truthy"
	OpFalsy   = "falsy"
	OpNot     = "not"
)

// binaryOperators is the closed registry of binary operator names.
var binaryOperators = map[string]struct{}{
	OpEq: {}, OpNe: {}, OpLt: {}, OpLe: {}, OpGt: {}, OpGe: {},
	OpIn: {}, OpNotIn: {}, OpMatches: {},
}

// unaryOperators is the closed registry of unary operator names.
var unaryOperators = map[string]struct{}{
	OpIsNull: {}, OpNotNull: {}, OpTruthy: {}, OpFalsy: {}, OpNot: {},
}

// IsBinaryOperator reports whether name is a registered binary operator.
func IsBinaryOperator(name string) bool {
	_, ok := binaryOperators[name]
	return ok
}

// IsUnaryOperator reports whether name is a registered unary operator.
func IsUnaryOperator(name string) bool {
	_, ok := unaryOperators[name]
	return ok
}

// valuesEqual compares two normalized values. Comparisons require a
// comparable pair of types; mixed pairs are indeterminate rather than
// silently coerced. Null compares by identity.
func valuesEqual(a, b any) Result {
	if a == nil || b == nil {
		return FromBool(a == nil && b == nil)
	}

	aNum, aIsNum := toFloat64(a)
	bNum, bIsNum := toFloat64(b)
	if aIsNum && bIsNum {
		return FromBool(aNum == bNum)
	}
	if aIsNum != bIsNum {
		return Indeterminate
	}

	aStr, aIsStr := a.(string)
	bStr, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return FromBool(aStr == bStr)
	}
	if aIsStr != bIsStr {
		return Indeterminate
	}

	aBool, aIsBool := a.(bool)
	bBool, bIsBool := b.(bool)
	if aIsBool && bIsBool {
		return FromBool(aBool == bBool)
	}

	// Opaque values compare by plain equality when the dynamic types
	// agree; anything else types out.
	if comparableValues(a, b) {
		return FromBool(a == b)
	}
	return Indeterminate
}

// comparableValues reports whether == is safe and meaningful for the pair.
func comparableValues(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	return ta == tb && ta != nil && ta.Comparable()
}

// compareOrdered applies lt/le/gt/ge to a numeric or string pair.
// Booleans and mixed pairs are indeterminate.
func compareOrdered(a, b any, op string) Result {
	aNum, aIsNum := toFloat64(a)
	bNum, bIsNum := toFloat64(b)
	if aIsNum && bIsNum {
		return FromBool(orderedHolds(compareFloats(aNum, bNum), op))
	}

	aStr, aIsStr := a.(string)
	bStr, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return FromBool(orderedHolds(compareStrings(aStr, bStr), op))
	}

	return Indeterminate
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func orderedHolds(cmp int, op string) bool {
	switch op {
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	default:
		return false
	}
}

// valueInList reports membership of a scalar in a list value. A right
// side that is not a list is indeterminate.
func valueInList(needle, haystack any) Result {
	elems, ok := toList(haystack)
	if !ok {
		return Indeterminate
	}
	for _, elem := range elems {
		if valuesEqual(needle, elem) == True {
			return True
		}
	}
	return False
}

// toList converts a value to []any, accepting the slice shapes JSON
// and YAML decoding produce.
func toList(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		elems := make([]any, len(s))
		for i, e := range s {
			elems[i] = e
		}
		return elems, true
	case []int:
		elems := make([]any, len(s))
		for i, e := range s {
			elems[i] = int64(e)
		}
		return elems, true
	case []int64:
		elems := make([]any, len(s))
		for i, e := range s {
			elems[i] = e
		}
		return elems, true
	case []float64:
		elems := make([]any, len(s))
		for i, e := range s {
			elems[i] = e
		}
		return elems, true
	default:
		return nil, false
	}
}

// toFloat64 converts the normalized numeric kinds to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// truthiness maps a scalar to its boolean weight: false, zero, and the
// empty string are falsy; other scalars are truthy; non-scalars and
// null are indeterminate.
func truthiness(v any) Result {
	switch t := v.(type) {
	case bool:
		return FromBool(t)
	case string:
		return FromBool(t != "")
	case int64:
		return FromBool(t != 0)
	case float64:
		return FromBool(t != 0)
	default:
		return Indeterminate
	}
}
