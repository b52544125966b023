package typemodel

import "fmt"

// Func is a method body. Static methods receive a nil receiver.
type Func func(recv any, args []any) (any, error)

// Annotations carry the per-method dispatch configuration markers.
type Annotations struct {
	// Strategy names the dispatch strategy for this method, if any.
	Strategy string
	// Static marks an interface method whose implementation is a static
	// method on the receiver's runtime class.
	Static bool
	// Dynamic requests resolution against the runtime argument types.
	Dynamic bool
}

// Method is a method declared on a Type. Sig excludes the receiver.
type Method struct {
	Name        string
	Owner       *Type
	Sig         Signature
	Static      bool
	Private     bool
	Abstract    bool
	Annotations Annotations
	Func        Func
}

// QualifiedName returns "Owner.name".
func (m *Method) QualifiedName() string {
	if m.Owner == nil {
		return m.Name
	}
	return m.Owner.name + "." + m.Name
}

// String renders "Owner.name(A,B)R", with a static prefix when relevant.
func (m *Method) String() string {
	s := m.QualifiedName() + m.Sig.String()
	if m.Static {
		return "static " + s
	}
	return s
}

// Call runs the method body.
func (m *Method) Call(recv any, args []any) (any, error) {
	if m.Func == nil {
		return nil, fmt.Errorf("method %s has no body", m)
	}
	return m.Func(recv, args)
}
