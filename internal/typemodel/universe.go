package typemodel

import (
	"fmt"
	"sort"
	"sync"
)

// Names of the builtin types every universe starts with.
const (
	RootName   = "Object"
	VoidName   = "Void"
	StringName = "String"
	NumberName = "Number"
	IntName    = "Int"
	FloatName  = "Float"
	BoolName   = "Bool"
)

// Universe interns types by name. Definition is safe for concurrent use, but
// the hierarchy is expected to be fully built before any resolution runs.
type Universe struct {
	mu    sync.RWMutex
	types map[string]*Type
	root  *Type
	void  *Type

	str, boolean, integer, float *Type
}

// NewUniverse returns a universe holding the builtin types.
func NewUniverse() *Universe {
	u := &Universe{types: make(map[string]*Type)}
	u.root = u.intern(RootName, KindClass, nil)
	u.void = u.intern(VoidName, KindVoid, nil)
	u.str = u.intern(StringName, KindClass, u.root)
	number := u.intern(NumberName, KindClass, u.root)
	u.integer = u.intern(IntName, KindClass, number)
	u.float = u.intern(FloatName, KindClass, number)
	u.boolean = u.intern(BoolName, KindClass, u.root)
	return u
}

func (u *Universe) intern(name string, kind Kind, super *Type) *Type {
	t := &Type{name: name, kind: kind, super: super, universe: u}
	u.types[name] = t
	return t
}

// Root returns the universal root type.
func (u *Universe) Root() *Type { return u.root }

// Void returns the type of methods that return nothing.
func (u *Universe) Void() *Type { return u.void }

// Class defines a class type. A nil super extends the root.
func (u *Universe) Class(name string, super *Type, interfaces ...*Type) (*Type, error) {
	if super == nil {
		super = u.root
	}
	if super.kind != KindClass {
		return nil, fmt.Errorf("class %s: superclass %s is not a class", name, super.name)
	}
	if err := u.checkInterfaces(name, interfaces); err != nil {
		return nil, err
	}
	return u.define(name, KindClass, super, interfaces)
}

// Interface defines an interface type extending the given interfaces.
func (u *Universe) Interface(name string, extends ...*Type) (*Type, error) {
	if err := u.checkInterfaces(name, extends); err != nil {
		return nil, err
	}
	return u.define(name, KindInterface, nil, extends)
}

// MustClass is like Class but panics on error. Intended for fixtures.
func (u *Universe) MustClass(name string, super *Type, interfaces ...*Type) *Type {
	t, err := u.Class(name, super, interfaces...)
	if err != nil {
		panic(err)
	}
	return t
}

// MustInterface is like Interface but panics on error. Intended for fixtures.
func (u *Universe) MustInterface(name string, extends ...*Type) *Type {
	t, err := u.Interface(name, extends...)
	if err != nil {
		panic(err)
	}
	return t
}

func (u *Universe) checkInterfaces(name string, interfaces []*Type) error {
	for _, it := range interfaces {
		if it == nil {
			return fmt.Errorf("type %s: nil interface", name)
		}
		if it.kind != KindInterface {
			return fmt.Errorf("type %s: %s is not an interface", name, it.name)
		}
	}
	return nil
}

func (u *Universe) define(name string, kind Kind, super *Type, interfaces []*Type) (*Type, error) {
	if name == "" {
		return nil, fmt.Errorf("type name is required")
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, exists := u.types[name]; exists {
		return nil, fmt.Errorf("type %s already defined", name)
	}
	t := u.intern(name, kind, super)
	t.interfaces = append([]*Type(nil), interfaces...)
	return t, nil
}

// Lookup returns the named type.
func (u *Universe) Lookup(name string) (*Type, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	t, ok := u.types[name]
	return t, ok
}

// MustLookup returns the named type or panics.
func (u *Universe) MustLookup(name string) *Type {
	t, ok := u.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("typemodel: unknown type %q", name))
	}
	return t
}

// Types returns all types sorted by name.
func (u *Universe) Types() []*Type {
	u.mu.RLock()
	out := make([]*Type, 0, len(u.types))
	for _, t := range u.types {
		out = append(out, t)
	}
	u.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// IsBuiltin reports whether t is one of the types every universe starts with.
func IsBuiltin(t *Type) bool {
	switch t.name {
	case RootName, VoidName, StringName, NumberName, IntName, FloatName, BoolName:
		return true
	}
	return false
}
