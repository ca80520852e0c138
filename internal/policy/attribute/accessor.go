// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package attribute

import (
	"log/slog"
	"reflect"
	"strings"

	"github.com/parapet/parapet/internal/policy/types"
)

// Provider is the optional capability a PIP value may implement to
// expose a named attribute map. The accessor falls back to it after
// getter and field lookup.
type Provider interface {
	Attributes() map[string]any
}

// Accessor resolves attribute references against a policy context
// using a loose, duck-typed contract: PIP values are not required to
// implement any particular interface.
type Accessor struct {
	logger *slog.Logger
}

// NewAccessor creates an Accessor.
func NewAccessor() *Accessor {
	return &Accessor{logger: slog.Default()}
}

// Resolve produces the concrete value a reference points to, or an
// ATTRIBUTE_NOT_RESOLVABLE error. The returned value is normalized:
// integer kinds collapse to int64, float kinds to float64; strings,
// bools, and nil pass through; anything else is returned opaquely.
func (a *Accessor) Resolve(pctx *types.PolicyContext, ref Ref) (any, error) {
	switch ref.Entity {
	case EntityLiteral:
		return Normalize(ref.Literal), nil

	case EntityActor:
		if pctx == nil || pctx.Actor == nil {
			return nil, notResolvable(ref.Entity, ref.Name)
		}
		return a.resolvePath(ref.Entity, pctx.Actor, ref.Name)

	case EntitySubject:
		if pctx == nil {
			return nil, notResolvable(ref.Entity, ref.Name)
		}
		// The first subject that yields the attribute wins; callers
		// evaluating per-subject pass a single-element context.
		for _, subject := range pctx.Subjects {
			if subject == nil {
				continue
			}
			v, err := a.resolvePath(ref.Entity, subject, ref.Name)
			if err == nil {
				return v, nil
			}
		}
		return nil, notResolvable(ref.Entity, ref.Name)

	case EntityEnvironment:
		if pctx == nil {
			return nil, notResolvable(ref.Entity, ref.Name)
		}
		return a.resolveEnvironment(pctx.Environment, ref.Name)

	default:
		return nil, notResolvable(ref.Entity, ref.Name)
	}
}

// resolveEnvironment looks up an environment attribute. Exact keys
// take precedence; otherwise the first dotted segment selects the
// entry and the remainder descends into it.
func (a *Accessor) resolveEnvironment(env map[string]any, name string) (any, error) {
	if env == nil {
		return nil, notResolvable(EntityEnvironment, name)
	}
	if v, ok := env[name]; ok {
		return Normalize(v), nil
	}
	head, rest, dotted := strings.Cut(name, ".")
	if !dotted {
		return nil, notResolvable(EntityEnvironment, name)
	}
	v, ok := env[head]
	if !ok || v == nil {
		return nil, notResolvable(EntityEnvironment, name)
	}
	return a.resolvePath(EntityEnvironment, v, rest)
}

// resolvePath walks a dotted attribute path segment by segment.
func (a *Accessor) resolvePath(entity Entity, value any, path string) (any, error) {
	current := value
	for _, segment := range strings.Split(path, ".") {
		if current == nil {
			return nil, notResolvable(entity, path)
		}
		next, ok := a.resolveSegment(current, segment)
		if !ok {
			return nil, notResolvable(entity, path)
		}
		current = next
	}
	return Normalize(current), nil
}

// resolveSegment applies the lookup contract to one PIP value:
// zero-arg Get<Segment> accessor, then exported field, then named
// attribute map.
func (a *Accessor) resolveSegment(value any, segment string) (result any, ok bool) {
	// A panicking accessor method must not take the decision down with it.
	defer func() {
		if recovered := recover(); recovered != nil {
			a.logger.Error("attribute lookup panicked",
				"segment", segment,
				"panic", recovered,
			)
			result, ok = nil, false
		}
	}()

	if m, found := asStringMap(value); found {
		v, exists := m[segment]
		return v, exists
	}

	rv := reflect.ValueOf(value)

	// 1. Zero-arg public accessor named get<Segment>, matched
	// case-insensitively on the capitalized form.
	want := "Get" + segment
	rt := rv.Type()
	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !strings.EqualFold(method.Name, want) {
			continue
		}
		fn := rv.Method(i)
		if fn.Type().NumIn() != 0 || fn.Type().NumOut() < 1 {
			continue
		}
		out := fn.Call(nil)
		return out[0].Interface(), true
	}

	// 2. Exported field with a matching name.
	elem := rv
	for elem.Kind() == reflect.Pointer {
		if elem.IsNil() {
			return nil, false
		}
		elem = elem.Elem()
	}
	if elem.Kind() == reflect.Struct {
		et := elem.Type()
		for i := 0; i < et.NumField(); i++ {
			field := et.Field(i)
			if !field.IsExported() || !strings.EqualFold(field.Name, segment) {
				continue
			}
			return elem.Field(i).Interface(), true
		}
	}

	// 3. Named attribute map.
	if provider, isProvider := value.(Provider); isProvider {
		attrs := provider.Attributes()
		if attrs != nil {
			v, exists := attrs[segment]
			return v, exists
		}
	}

	return nil, false
}

// asStringMap unwraps plain attribute maps so nested environment
// values like map[string]any{"session": map[string]any{...}} resolve.
func asStringMap(value any) (map[string]any, bool) {
	if m, ok := value.(map[string]any); ok {
		return m, true
	}
	return nil, false
}

// Normalize collapses Go's numeric kinds into the engine's canonical
// scalar types. Non-scalar values are returned opaquely.
func Normalize(v any) any {
	switch n := v.(type) {
	case nil:
		return nil
	case bool, string, int64, float64:
		return n
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}
