package dispatch

import (
	"fmt"

	"github.com/abramin/dynlink/internal/typemodel"
)

// Handle is a typed reference to an invocable target. Handles are immutable
// and safe to share between goroutines.
type Handle struct {
	typ      typemodel.Signature
	method   *typemodel.Method
	universe *typemodel.Universe
	name     string
	invoke   func(args []any) (any, error)
}

// NewHandle wraps fn as a handle of the given type. It is used for
// synthetic targets such as call-site fallbacks.
func NewHandle(u *typemodel.Universe, name string, typ typemodel.Signature, fn func(args []any) (any, error)) *Handle {
	return &Handle{typ: typ, universe: u, name: name, invoke: fn}
}

// Type returns the handle's call type.
func (h *Handle) Type() typemodel.Signature { return h.typ }

// Method returns the method the handle ultimately calls, or nil for
// synthetic handles.
func (h *Handle) Method() *typemodel.Method { return h.method }

func (h *Handle) String() string { return h.name + h.typ.String() }

// Invoke calls the target. The argument count must match the handle type.
func (h *Handle) Invoke(args ...any) (any, error) {
	if len(args) != h.typ.NumParams() {
		return nil, &Error{
			Kind:   KindWrongMethodType,
			Op:     "invoke",
			Method: h.name,
			Type:   h.typ.String(),
			Err:    fmt.Errorf("got %d arguments", len(args)),
		}
	}
	return h.invoke(args)
}

// BindTo fixes the first parameter to recv.
func (h *Handle) BindTo(recv any) (*Handle, error) {
	if h.typ.NumParams() == 0 {
		return nil, &Error{Kind: KindWrongMethodType, Op: "bind", Method: h.name, Type: h.typ.String(),
			Err: fmt.Errorf("no leading parameter")}
	}
	if !h.universe.IsInstance(recv, h.typ.Param(0)) {
		return nil, &Error{Kind: KindTypeMismatch, Op: "bind", Method: h.name, Type: h.typ.String(),
			Err: fmt.Errorf("receiver %s is not a %s", h.universe.TypeOf(recv), h.typ.Param(0))}
	}
	inner := h.invoke
	return &Handle{
		typ:      h.typ.DropFirst(),
		method:   h.method,
		universe: h.universe,
		name:     h.name,
		invoke: func(args []any) (any, error) {
			return inner(append([]any{recv}, args...))
		},
	}, nil
}

// Guard returns a handle that runs check before every call and fails with
// its error instead of calling h. Type, method and name are unchanged.
func (h *Handle) Guard(check func(args []any) error) *Handle {
	inner := h.invoke
	return &Handle{
		typ:      h.typ,
		method:   h.method,
		universe: h.universe,
		name:     h.name,
		invoke: func(args []any) (any, error) {
			if err := check(args); err != nil {
				return nil, err
			}
			return inner(args)
		},
	}
}

// DropReceiver returns a handle that accepts a leading argument of type
// recv and ignores it.
func (h *Handle) DropReceiver(recv *typemodel.Type) *Handle {
	inner := h.invoke
	return &Handle{
		typ:      h.typ.Prepend(recv),
		method:   h.method,
		universe: h.universe,
		name:     h.name,
		invoke: func(args []any) (any, error) {
			return inner(args[1:])
		},
	}
}

// AsType adapts h to target. Widening conversions pass through; narrowing
// reference conversions are checked on every call and fail with a
// TypeMismatch error. Conversions that can never succeed are rejected here
// with WrongMethodType.
func (h *Handle) AsType(target typemodel.Signature) (*Handle, error) {
	if h.typ.Equal(target) {
		return h, nil
	}
	wrong := func(format string, args ...any) error {
		return &Error{Kind: KindWrongMethodType, Op: "adapt", Method: h.name, Type: h.typ.String(),
			Err: fmt.Errorf("to %s: "+format, append([]any{target}, args...)...)}
	}
	if target.NumParams() != h.typ.NumParams() {
		return nil, wrong("arity %d != %d", target.NumParams(), h.typ.NumParams())
	}

	var checked []int
	for i := 0; i < target.NumParams(); i++ {
		from, to := target.Param(i), h.typ.Param(i)
		if typemodel.IsAssignable(from, to) {
			continue
		}
		if !typemodel.IsConvertible(from, to) {
			return nil, wrong("parameter %d: %s cannot be converted to %s", i, from, to)
		}
		checked = append(checked, i)
	}

	void := h.universe.Void()
	hret, tret := h.typ.Return(), target.Return()
	checkReturn := false
	switch {
	case tret == void, hret == void, typemodel.IsAssignable(hret, tret):
	case typemodel.IsConvertible(hret, tret):
		checkReturn = true
	default:
		return nil, wrong("return %s cannot be converted to %s", hret, tret)
	}

	u, inner, params, name := h.universe, h.invoke, h.typ, h.name
	return &Handle{
		typ:      target,
		method:   h.method,
		universe: u,
		name:     name,
		invoke: func(args []any) (any, error) {
			for _, i := range checked {
				if !u.IsInstance(args[i], params.Param(i)) {
					return nil, &Error{Kind: KindTypeMismatch, Op: "invoke", Method: name, Type: params.String(),
						Err: fmt.Errorf("argument %d: %s cannot be cast to %s", i, u.TypeOf(args[i]), params.Param(i))}
				}
			}
			out, err := inner(args)
			if err != nil {
				return nil, err
			}
			switch {
			case tret == void:
				return nil, nil
			case hret == void:
				return nil, nil
			case checkReturn && !u.IsInstance(out, tret):
				return nil, &Error{Kind: KindTypeMismatch, Op: "invoke", Method: name, Type: params.String(),
					Err: fmt.Errorf("result %s cannot be cast to %s", u.TypeOf(out), tret)}
			}
			return out, nil
		},
	}, nil
}
