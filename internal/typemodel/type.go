package typemodel

import (
	"fmt"
	"strings"
)

// Kind distinguishes classes from interfaces.
type Kind string

const (
	KindClass     Kind = "class"
	KindInterface Kind = "interface"
	KindVoid      Kind = "void"
)

// Type is a node in the synthetic type hierarchy. Types are created through a
// Universe and must not be mutated once resolution starts.
type Type struct {
	name       string
	kind       Kind
	super      *Type
	interfaces []*Type
	enclosing  *Type
	universe   *Universe

	// Strategy is the dispatch strategy annotation of this declaring scope.
	Strategy string

	// Format renders instances of this type. Nil uses the default rendering.
	Format func(in *Instance) string

	methods map[string][]*Method
	order   []*Method
}

// Name returns the qualified type name, e.g. "Outer.Inner".
func (t *Type) Name() string { return t.name }

// SimpleName returns the last dotted component of the type name.
func (t *Type) SimpleName() string {
	if i := strings.LastIndexByte(t.name, '.'); i >= 0 {
		return t.name[i+1:]
	}
	return t.name
}

func (t *Type) Kind() Kind { return t.kind }

// IsInterface reports whether t is an interface type.
func (t *Type) IsInterface() bool { return t.kind == KindInterface }

// Super returns the superclass, or nil for the root, interfaces and void.
func (t *Type) Super() *Type { return t.super }

// Interfaces returns the directly implemented (or extended) interfaces in
// declaration order.
func (t *Type) Interfaces() []*Type {
	out := make([]*Type, len(t.interfaces))
	copy(out, t.interfaces)
	return out
}

// Enclosing returns the declaring scope of a nested type, or nil.
func (t *Type) Enclosing() *Type { return t.enclosing }

// SetEnclosing records the declaring scope of t.
func (t *Type) SetEnclosing(outer *Type) error {
	for s := outer; s != nil; s = s.enclosing {
		if s == t {
			return fmt.Errorf("type %s cannot enclose itself", t.name)
		}
	}
	t.enclosing = outer
	return nil
}

// Universe returns the universe that interned t.
func (t *Type) Universe() *Universe { return t.universe }

// Declare adds a method to t. A method with the same name, staticness and
// signature may only be declared once per type.
func (t *Type) Declare(m *Method) error {
	if m == nil || m.Name == "" {
		return fmt.Errorf("declaring method on %s: method name is required", t.name)
	}
	if t.kind == KindVoid {
		return fmt.Errorf("declaring method %s: void cannot declare methods", m.Name)
	}
	for _, existing := range t.methods[m.Name] {
		if existing.Static == m.Static && existing.Sig.Equal(m.Sig) {
			return fmt.Errorf("duplicate method %s%s on %s", m.Name, m.Sig, t.name)
		}
	}
	if t.methods == nil {
		t.methods = make(map[string][]*Method)
	}
	m.Owner = t
	if t.kind == KindInterface && !m.Static && m.Func == nil {
		m.Abstract = true
	}
	t.methods[m.Name] = append(t.methods[m.Name], m)
	t.order = append(t.order, m)
	return nil
}

// Methods returns the methods declared directly on t, in declaration order.
func (t *Type) Methods() []*Method {
	out := make([]*Method, len(t.order))
	copy(out, t.order)
	return out
}

// DeclaredMethods returns the overloads declared directly on t with the given name.
func (t *Type) DeclaredMethods(name string) []*Method {
	return t.methods[name]
}

// DeclaredMethod returns the method declared directly on t with the exact
// name, staticness and signature, or nil.
func (t *Type) DeclaredMethod(name string, static bool, sig Signature) *Method {
	for _, m := range t.methods[name] {
		if m.Static == static && m.Sig.Equal(sig) {
			return m
		}
	}
	return nil
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.name
}

// SupertypesOf returns every proper supertype of t, most specific first,
// excluding t itself and the universal root. The walk is breadth-first over
// direct supertypes (superclass before interfaces, interfaces in declaration
// order) and each type appears once.
func SupertypesOf(t *Type) []*Type {
	if t == nil {
		return nil
	}
	root := t.universe.Root()
	seen := map[*Type]bool{t: true}
	var out []*Type
	queue := directSupertypes(t)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if next == nil || seen[next] {
			continue
		}
		seen[next] = true
		if next != root {
			out = append(out, next)
		}
		queue = append(queue, directSupertypes(next)...)
	}
	return out
}

func directSupertypes(t *Type) []*Type {
	direct := make([]*Type, 0, 1+len(t.interfaces))
	if t.super != nil {
		direct = append(direct, t.super)
	}
	return append(direct, t.interfaces...)
}

// IsAssignable reports whether a value of type from can be used where to is
// expected.
func IsAssignable(from, to *Type) bool {
	if from == nil || to == nil {
		return false
	}
	if from == to {
		return true
	}
	if from.kind == KindVoid || to.kind == KindVoid {
		return false
	}
	if to == to.universe.Root() {
		return true
	}
	for _, s := range SupertypesOf(from) {
		if s == to {
			return true
		}
	}
	return false
}

// IsConvertible reports whether a reference of type from may be cast to to,
// either statically (widening) or with a runtime check (narrowing).
// Interfaces are always cast candidates.
func IsConvertible(from, to *Type) bool {
	if IsAssignable(from, to) || IsAssignable(to, from) {
		return true
	}
	if from == nil || to == nil || from.kind == KindVoid || to.kind == KindVoid {
		return false
	}
	return from.kind == KindInterface || to.kind == KindInterface
}
