package callsite

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/abramin/dynlink/internal/dispatch"
	"github.com/abramin/dynlink/internal/typemodel"
	"github.com/google/uuid"
)

// State is the resolution state of a call site.
type State int

const (
	// Unresolved sites still point at their fallback.
	Unresolved State = iota
	// Resolved sites point at a fixed implementation.
	Resolved
	// PerCall sites resolve on every invocation and never cache.
	PerCall
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Resolved:
		return "resolved"
	case PerCall:
		return "per-call"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Linkage is the context a call site was bootstrapped with. It is retained
// for the lifetime of the site.
type Linkage struct {
	Lookup   *dispatch.Lookup
	Resolver *dispatch.Resolver
	Logger   *slog.Logger
}

func (l *Linkage) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l.Logger
}

// CallSite is an indirection cell holding the current target of one
// generated method. The target is swapped atomically, so a concurrent
// caller sees either the previous or the new handle, never a mix.
type CallSite struct {
	id       uuid.UUID
	name     string
	typ      typemodel.Signature
	strategy Strategy
	link     *Linkage

	target   atomic.Pointer[dispatch.Handle]
	fallback *dispatch.Handle

	resolutions atomic.Int64
}

func newCallSite(link *Linkage, s Strategy, name string, typ typemodel.Signature) *CallSite {
	return &CallSite{
		id:       uuid.New(),
		name:     name,
		typ:      typ,
		strategy: s,
		link:     link,
	}
}

func (cs *CallSite) ID() uuid.UUID { return cs.id }

func (cs *CallSite) Name() string { return cs.name }

// Type returns the declared call-site type, receiver first.
func (cs *CallSite) Type() typemodel.Signature { return cs.typ }

func (cs *CallSite) Strategy() Strategy { return cs.strategy }

// Linkage returns the context the site was bootstrapped with.
func (cs *CallSite) Linkage() *Linkage { return cs.link }

// Target returns the current target.
func (cs *CallSite) Target() *dispatch.Handle { return cs.target.Load() }

// SetTarget replaces the target. The handle must have the declared type.
func (cs *CallSite) SetTarget(h *dispatch.Handle) error {
	if err := cs.checkType(h); err != nil {
		return err
	}
	cs.target.Store(h)
	return nil
}

// CompareAndSwap replaces the target only if it is still old.
func (cs *CallSite) CompareAndSwap(old, h *dispatch.Handle) (bool, error) {
	if err := cs.checkType(h); err != nil {
		return false, err
	}
	return cs.target.CompareAndSwap(old, h), nil
}

func (cs *CallSite) checkType(h *dispatch.Handle) error {
	if h == nil || !h.Type().Equal(cs.typ) {
		got := "<nil>"
		if h != nil {
			got = h.Type().String()
		}
		return &dispatch.Error{Kind: dispatch.KindWrongMethodType, Op: "set target", Method: cs.name, Type: cs.typ.String(),
			Err: fmt.Errorf("handle type %s", got)}
	}
	return nil
}

// State reports whether the site has been resolved.
func (cs *CallSite) State() State {
	switch cs.strategy {
	case VirtualPerCall, VirtualPerCallDynamic:
		return PerCall
	}
	if cs.fallback != nil && cs.target.Load() == cs.fallback {
		return Unresolved
	}
	return Resolved
}

// Resolutions returns how many successful resolutions this site performed.
func (cs *CallSite) Resolutions() int64 { return cs.resolutions.Load() }

// Invoke calls the current target with the receiver first.
func (cs *CallSite) Invoke(args ...any) (any, error) {
	return cs.target.Load().Invoke(args...)
}
