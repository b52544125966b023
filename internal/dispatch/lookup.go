package dispatch

import (
	"fmt"

	"github.com/abramin/dynlink/internal/typemodel"
)

// Lookup is the linkage context a call site resolves against. Private
// methods are visible only to a lookup whose caller is their owner.
type Lookup struct {
	universe *typemodel.Universe
	caller   *typemodel.Type
}

// NewLookup returns a lookup on behalf of caller. A nil caller sees only
// non-private methods.
func NewLookup(u *typemodel.Universe, caller *typemodel.Type) *Lookup {
	return &Lookup{universe: u, caller: caller}
}

func (l *Lookup) Universe() *typemodel.Universe { return l.universe }

func (l *Lookup) Caller() *typemodel.Type { return l.caller }

// FindVirtual finds an instance method with exactly the given parameter and
// return types on class or its supertypes. The returned handle takes the
// receiver as its first parameter and dispatches to the most specific
// override of the receiver's runtime class.
func (l *Lookup) FindVirtual(class *typemodel.Type, name string, sig typemodel.Signature) (*Handle, error) {
	m, err := l.find(class, name, sig)
	if m == nil {
		return nil, noSuchMethod("find virtual", class, name, sig, err)
	}
	u := l.universe
	return &Handle{
		typ:      sig.Prepend(class),
		method:   m,
		universe: u,
		name:     m.QualifiedName(),
		invoke: func(args []any) (any, error) {
			recv := args[0]
			rt := u.TypeOf(recv)
			if rt == nil {
				return nil, &Error{Kind: KindNilReceiver, Op: "invoke", Method: m.QualifiedName(), Type: sig.String()}
			}
			if !typemodel.IsAssignable(rt, class) {
				return nil, &Error{Kind: KindTypeMismatch, Op: "invoke", Method: m.QualifiedName(), Type: sig.String(),
					Err: fmt.Errorf("receiver %s cannot be cast to %s", rt, class)}
			}
			target := m
			if !m.Private {
				target = override(rt, m)
			}
			return target.Call(recv, args[1:])
		},
	}, nil
}

// FindStatic finds a static method with exactly the given parameter and
// return types declared on class.
func (l *Lookup) FindStatic(class *typemodel.Type, name string, sig typemodel.Signature) (*Handle, error) {
	m := class.DeclaredMethod(name, true, sig)
	if m == nil {
		return nil, noSuchMethod("find static", class, name, sig, nil)
	}
	if !l.accessible(m) {
		return nil, noSuchMethod("find static", class, name, sig, l.accessError(m))
	}
	return &Handle{
		typ:      sig,
		method:   m,
		universe: l.universe,
		name:     m.QualifiedName(),
		invoke: func(args []any) (any, error) {
			return m.Call(nil, args)
		},
	}, nil
}

// Bind finds the virtual method on recv's runtime class and binds it to recv.
func (l *Lookup) Bind(recv any, name string, sig typemodel.Signature) (*Handle, error) {
	class := l.universe.TypeOf(recv)
	if class == nil {
		return nil, &Error{Kind: KindNilReceiver, Op: "bind", Method: name, Type: sig.String()}
	}
	h, err := l.FindVirtual(class, name, sig)
	if err != nil {
		return nil, err
	}
	return h.BindTo(recv)
}

// find returns the first accessible match walking up from class. A nil
// method means not found; the error then explains a denied match, if any.
func (l *Lookup) find(class *typemodel.Type, name string, sig typemodel.Signature) (*typemodel.Method, error) {
	var denied error
	for _, t := range hierarchy(class) {
		m := t.DeclaredMethod(name, false, sig)
		if m == nil || m.Func == nil {
			continue
		}
		if !l.accessible(m) {
			if denied == nil {
				denied = l.accessError(m)
			}
			continue
		}
		return m, nil
	}
	return nil, denied
}

func (l *Lookup) accessible(m *typemodel.Method) bool {
	return !m.Private || m.Owner == l.caller
}

func (l *Lookup) accessError(m *typemodel.Method) error {
	caller := "<anonymous>"
	if l.caller != nil {
		caller = l.caller.Name()
	}
	return fmt.Errorf("%s is private and not accessible from %s", m, caller)
}

// hierarchy returns class, its proper supertypes and the root, in lookup order.
func hierarchy(class *typemodel.Type) []*typemodel.Type {
	root := class.Universe().Root()
	out := append([]*typemodel.Type{class}, typemodel.SupertypesOf(class)...)
	if class != root {
		out = append(out, root)
	}
	return out
}

// override returns the most specific non-private instance method matching
// m's name and signature along rt's hierarchy. m itself is the fallback.
func override(rt *typemodel.Type, m *typemodel.Method) *typemodel.Method {
	for _, t := range hierarchy(rt) {
		if t == m.Owner {
			return m
		}
		if o := t.DeclaredMethod(m.Name, false, m.Sig); o != nil && o.Func != nil && !o.Private {
			return o
		}
	}
	return m
}
