package generator

import (
	"fmt"

	"github.com/abramin/dynlink/internal/callsite"
	"github.com/abramin/dynlink/internal/dispatch"
	"github.com/abramin/dynlink/internal/registry"
	"github.com/abramin/dynlink/internal/typemodel"
)

// Impl is a generated implementation. Each method forwards to its own call
// site; the Impl itself holds no other state.
type Impl struct {
	class   *typemodel.Type
	ifaces  []*typemodel.Type
	methods []*ImplMethod
}

// ImplMethod is one generated method.
type ImplMethod struct {
	Descriptor *registry.Descriptor
	Site       *callsite.CallSite
}

// Invoke forwards to the call site. args[0] is the receiver.
func (m *ImplMethod) Invoke(args ...any) (any, error) {
	return m.Site.Invoke(args...)
}

func (i *Impl) Name() string { return i.class.Name() }

// RuntimeType returns the generated class, which implements every input
// interface.
func (i *Impl) RuntimeType() *typemodel.Type { return i.class }

func (i *Impl) Interfaces() []*typemodel.Type {
	return append([]*typemodel.Type(nil), i.ifaces...)
}

func (i *Impl) Methods() []*ImplMethod {
	return append([]*ImplMethod(nil), i.methods...)
}

// Method returns the generated method with the exact nominal signature.
func (i *Impl) Method(name string, sig typemodel.Signature) (*ImplMethod, bool) {
	for _, m := range i.methods {
		if m.Descriptor.MethodName == name && m.Descriptor.Signature.Equal(sig) {
			return m, true
		}
	}
	return nil, false
}

// Call invokes the overload of name whose arity matches args.
func (i *Impl) Call(name string, args ...any) (any, error) {
	var match *ImplMethod
	for _, m := range i.methods {
		if m.Descriptor.MethodName != name || m.Descriptor.Signature.NumParams() != len(args) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("call %s with %d arguments: ambiguous between %s and %s",
				name, len(args), match.Descriptor.Signature, m.Descriptor.Signature)
		}
		match = m
	}
	if match == nil {
		return nil, &dispatch.Error{Kind: dispatch.KindNoSuchMethod, Op: "call", Method: i.Name() + "." + name,
			Err: fmt.Errorf("no overload takes %d arguments", len(args))}
	}
	return match.Invoke(args...)
}
