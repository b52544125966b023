package typemodel

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Typed is implemented by values that know their runtime type.
type Typed interface {
	RuntimeType() *Type
}

// Instance is a generic object of a class type.
type Instance struct {
	typ    *Type
	Fields map[string]any
}

// New creates an instance of t with the given fields.
func New(t *Type, fields map[string]any) *Instance {
	if fields == nil {
		fields = make(map[string]any)
	}
	return &Instance{typ: t, Fields: fields}
}

func (in *Instance) RuntimeType() *Type { return in.typ }

// Field returns a field value, or nil when unset.
func (in *Instance) Field(name string) any { return in.Fields[name] }

func (in *Instance) String() string {
	if in.typ.Format != nil {
		return in.typ.Format(in)
	}
	keys := make([]string, 0, len(in.Fields))
	for k := range in.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, in.Fields[k]))
	}
	return in.typ.SimpleName() + "{" + strings.Join(parts, ",") + "}"
}

// TypeOf returns the runtime type of v. Nil has no observable type and
// yields nil; Go values with no mapping in the universe yield the root.
func (u *Universe) TypeOf(v any) *Type {
	switch x := v.(type) {
	case nil:
		return nil
	case Typed:
		if isNilPointer(x) {
			return nil
		}
		return x.RuntimeType()
	case string:
		return u.str
	case bool:
		return u.boolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return u.integer
	case float32, float64:
		return u.float
	default:
		return u.root
	}
}

// IsInstance reports whether v may be used where t is expected. Nil is an
// instance of every reference type.
func (u *Universe) IsInstance(v any, t *Type) bool {
	rt := u.TypeOf(v)
	if rt == nil {
		return t.kind != KindVoid
	}
	return IsAssignable(rt, t)
}

// isNilPointer reports whether v holds a typed nil pointer, which carries
// no runtime type.
func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
