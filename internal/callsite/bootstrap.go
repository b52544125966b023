package callsite

import (
	"fmt"

	"github.com/abramin/dynlink/internal/dispatch"
	"github.com/abramin/dynlink/internal/typemodel"
)

// Bootstrap creates the call site for one generated method. declared is the
// nominal method type with the receiver as its first parameter. extra
// carries the strategy arguments: for the per-call strategies an
// invocation kind and a dynamic flag, both optional.
//
// StaticBind resolves here and fails if no exact static method exists. It
// looks the method up on the declared receiver type, the first parameter of
// declared, never on a runtime class; the receiver argument is ignored.
// The other strategies never fail on a missing implementation at bootstrap
// time.
func Bootstrap(link *Linkage, s Strategy, name string, declared typemodel.Signature, extra ...int) (*CallSite, error) {
	if link == nil || link.Lookup == nil || link.Resolver == nil {
		return nil, fmt.Errorf("bootstrapping %s: incomplete linkage", name)
	}
	if declared.NumParams() == 0 {
		return nil, &dispatch.Error{Kind: dispatch.KindWrongMethodType, Op: "bootstrap", Method: name, Type: declared.String(),
			Err: fmt.Errorf("declared type has no receiver parameter")}
	}

	var (
		cs  *CallSite
		err error
	)
	switch s {
	case StaticBind:
		cs, err = bootstrapStatic(link, name, declared)
	case VirtualPerCall, VirtualPerCallDynamic:
		cs, err = bootstrapPerCall(link, s, name, declared, extra)
	case LateBindOnce:
		cs = bootstrapLateBind(link, name, declared)
	default:
		return nil, fmt.Errorf("bootstrapping %s: unknown strategy %s", name, s)
	}
	if err != nil {
		return nil, err
	}
	link.logger().Debug("call site bootstrapped",
		"site", cs.id.String(),
		"method", name,
		"type", declared.String(),
		"strategy", s.String(),
	)
	return cs, nil
}

// bootstrapStatic binds the static method declared on the declared receiver
// type, declared.Param(0). The resulting target ignores the receiver argument.
func bootstrapStatic(link *Linkage, name string, declared typemodel.Signature) (*CallSite, error) {
	owner := declared.Param(0)
	h, err := link.Lookup.FindStatic(owner, name, declared.DropFirst())
	if err != nil {
		return nil, fmt.Errorf("bootstrapping static %s: %w", name, err)
	}
	cs := newCallSite(link, StaticBind, name, declared)
	cs.target.Store(h.DropReceiver(owner))
	cs.resolutions.Add(1)
	return cs, nil
}

func bootstrapPerCall(link *Linkage, s Strategy, name string, declared typemodel.Signature, extra []int) (*CallSite, error) {
	kind, mode, ferr := perCallFlags(s, extra)
	if ferr != nil {
		ferr.Op, ferr.Method, ferr.Type = "bootstrap", name, declared.String()
		return nil, ferr
	}

	cs := newCallSite(link, s, name, declared)
	u := link.Lookup.Universe()
	nominal := declared.DropFirst()
	cs.target.Store(dispatch.NewHandle(u, name, declared, func(args []any) (any, error) {
		req := dispatch.Request{
			Lookup:   link.Lookup,
			Receiver: args[0],
			Name:     name,
			Type:     nominal,
			Kind:     kind,
			Mode:     mode,
			Site:     cs.id.String(),
		}
		if mode == dispatch.ModeDynamic {
			req.ArgTypes = make([]*typemodel.Type, len(args)-1)
			for i, a := range args[1:] {
				req.ArgTypes[i] = u.TypeOf(a)
			}
		}
		h, err := link.Resolver.Resolve(req)
		if err != nil {
			return nil, err
		}
		cs.resolutions.Add(1)
		return h.Invoke(args[1:]...)
	}))
	return cs, nil
}

func perCallFlags(s Strategy, extra []int) (dispatch.InvokeKind, dispatch.Mode, *dispatch.Error) {
	kind, mode := dispatch.InvokeVirtual, dispatch.ModeNormal
	if s == VirtualPerCallDynamic {
		mode = dispatch.ModeDynamic
	}
	switch len(extra) {
	case 0:
		return kind, mode, nil
	case 2:
	default:
		return 0, 0, &dispatch.Error{Kind: dispatch.KindInvalidStrategyFlag,
			Err: fmt.Errorf("want invocation kind and dynamic flag, got %d arguments", len(extra))}
	}

	kind, mode = dispatch.InvokeKind(extra[0]), dispatch.Mode(extra[1])
	if !kind.Valid() {
		return 0, 0, &dispatch.Error{Kind: dispatch.KindInvalidInvocationMode, Err: fmt.Errorf("invocation kind %d", extra[0])}
	}
	if !mode.Valid() {
		return 0, 0, &dispatch.Error{Kind: dispatch.KindInvalidStrategyFlag, Err: fmt.Errorf("dynamic flag %d", extra[1])}
	}
	if s == VirtualPerCallDynamic && mode != dispatch.ModeDynamic {
		return 0, 0, &dispatch.Error{Kind: dispatch.KindInvalidStrategyFlag, Err: fmt.Errorf("%s requires the dynamic flag", s)}
	}
	return kind, mode, nil
}

// bootstrapLateBind installs a fallback that resolves on the receiver's
// runtime class, freezes the site to the adapted result and forwards the
// call. Racing first calls each resolve and store; the last store wins and
// every racing call completes with the handle it resolved itself.
func bootstrapLateBind(link *Linkage, name string, declared typemodel.Signature) *CallSite {
	cs := newCallSite(link, LateBindOnce, name, declared)
	u := link.Lookup.Universe()
	nominal := declared.DropFirst()
	cs.fallback = dispatch.NewHandle(u, name+"$fallback", declared, func(args []any) (any, error) {
		h, err := link.Resolver.Resolve(dispatch.Request{
			Lookup:   link.Lookup,
			Receiver: args[0],
			Name:     name,
			Type:     nominal,
			Kind:     dispatch.InvokeVirtual,
			Mode:     dispatch.ModeNormal,
			Unbound:  true,
			Site:     cs.id.String(),
		})
		if err != nil {
			return nil, err
		}
		adapted, err := h.AsType(declared)
		if err != nil {
			return nil, err
		}
		adapted = frozenTo(u, name, h.Type().Param(0), adapted)
		cs.target.Store(adapted)
		cs.resolutions.Add(1)
		link.logger().Debug("call site frozen",
			"site", cs.id.String(),
			"method", name,
			"target", adapted.Method().String(),
		)
		return adapted.Invoke(args...)
	})
	cs.target.Store(cs.fallback)
	return cs
}

// frozenTo guards a frozen target so that a receiver outside class fails
// with a TypeMismatch naming the frozen target. Mismatches raised by other
// arguments or by the callee pass through unchanged.
func frozenTo(u *typemodel.Universe, name string, class *typemodel.Type, h *dispatch.Handle) *dispatch.Handle {
	return h.Guard(func(args []any) error {
		if u.IsInstance(args[0], class) {
			return nil
		}
		return fmt.Errorf("call site %s frozen to %s: %w", name, h.Method(), &dispatch.Error{
			Kind:   dispatch.KindTypeMismatch,
			Op:     "invoke",
			Method: name,
			Type:   h.Type().String(),
			Err:    fmt.Errorf("receiver %s cannot be cast to %s", u.TypeOf(args[0]), class),
		})
	})
}
