package dispatch

import (
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/abramin/dynlink/internal/typemodel"
)

// InvokeKind selects between instance and static implementations.
type InvokeKind int

const (
	InvokeVirtual InvokeKind = 1
	InvokeStatic  InvokeKind = 2
)

func (k InvokeKind) String() string {
	switch k {
	case InvokeVirtual:
		return "virtual"
	case InvokeStatic:
		return "static"
	}
	return fmt.Sprintf("InvokeKind(%d)", int(k))
}

// Valid reports whether k is a known invocation kind.
func (k InvokeKind) Valid() bool { return k == InvokeVirtual || k == InvokeStatic }

// Mode selects nominal or runtime-argument-type resolution.
type Mode int

const (
	ModeNormal  Mode = 0
	ModeDynamic Mode = 1
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeDynamic:
		return "dynamic"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func (m Mode) Valid() bool { return m == ModeNormal || m == ModeDynamic }

// Request describes one resolution.
type Request struct {
	Lookup   *Lookup
	Receiver any
	Name     string
	// Type is the nominal signature, receiver excluded.
	Type typemodel.Signature
	Kind InvokeKind
	Mode Mode
	// ArgTypes are the explicit argument types for ModeDynamic. A nil entry
	// stands for a nil argument and falls back to the nominal parameter type.
	ArgTypes []*typemodel.Type
	// Unbound returns a virtual handle that takes the receiver as its first
	// argument instead of binding it.
	Unbound bool
	// Site identifies the requesting call site in events.
	Site string
}

// Event reports the outcome of one resolution to an Observer.
type Event struct {
	Site     string
	Method   string
	Receiver string
	ArgTypes string
	Kind     InvokeKind
	Mode     Mode
	Selected string
	Attempts int
	Err      error
	Elapsed  time.Duration
}

// Observer receives resolution events. Implementations must be safe for
// concurrent use.
type Observer interface {
	Resolved(Event)
}

// Stats is a snapshot of resolver counters.
type Stats struct {
	Resolutions int64 `json:"resolutions"`
	Attempts    int64 `json:"attempts"`
	Failures    int64 `json:"failures"`
}

// Resolver finds the implementation a call should run. It holds no
// per-call state and is safe for concurrent use.
type Resolver struct {
	logger   *slog.Logger
	observer Observer

	resolutions atomic.Int64
	attempts    atomic.Int64
	failures    atomic.Int64
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

func WithObserver(o Observer) Option {
	return func(r *Resolver) { r.observer = o }
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stats returns the current counters.
func (r *Resolver) Stats() Stats {
	return Stats{
		Resolutions: r.resolutions.Load(),
		Attempts:    r.attempts.Load(),
		Failures:    r.failures.Load(),
	}
}

// Resolve selects the implementation for req. The returned handle has type
// req.Type (with the receiver class prepended when Unbound).
//
// In ModeDynamic the exact runtime argument types are tried first. If that
// fails every combination of per-slot candidates is tried in mixed-radix
// order with the last slot varying fastest, and the first resolvable
// combination wins. This is not a most-specific selection: with a class
// implementing two unrelated interfaces the one it lists first wins. When
// nothing matches, the error carries every failed attempt in Suppressed.
func (r *Resolver) Resolve(req Request) (*Handle, error) {
	start := time.Now()
	r.resolutions.Add(1)
	attempts := 0

	h, err := r.resolve(req, &attempts)

	if err != nil {
		r.failures.Add(1)
	}
	ev := Event{
		Site:     req.Site,
		Method:   req.Name,
		Receiver: req.Lookup.Universe().TypeOf(req.Receiver).String(),
		ArgTypes: typeList(req.ArgTypes),
		Kind:     req.Kind,
		Mode:     req.Mode,
		Attempts: attempts,
		Err:      err,
		Elapsed:  time.Since(start),
	}
	if h != nil {
		ev.Selected = h.Method().String()
	}
	r.logger.Debug("resolved",
		"site", ev.Site,
		"method", ev.Method,
		"receiver", ev.Receiver,
		"mode", ev.Mode.String(),
		"selected", ev.Selected,
		"attempts", ev.Attempts,
		"error", err,
	)
	if r.observer != nil {
		r.observer.Resolved(ev)
	}
	return h, err
}

func (r *Resolver) resolve(req Request, attempts *int) (*Handle, error) {
	if !req.Kind.Valid() {
		return nil, &Error{Kind: KindInvalidInvocationMode, Op: "resolve", Method: req.Name, Type: req.Type.String(),
			Err: fmt.Errorf("invocation kind %d", int(req.Kind))}
	}
	if !req.Mode.Valid() {
		return nil, &Error{Kind: KindInvalidStrategyFlag, Op: "resolve", Method: req.Name, Type: req.Type.String(),
			Err: fmt.Errorf("dynamic flag %d", int(req.Mode))}
	}
	u := req.Lookup.Universe()
	class := u.TypeOf(req.Receiver)
	if class == nil {
		return nil, &Error{Kind: KindNilReceiver, Op: "resolve", Method: req.Name, Type: req.Type.String()}
	}

	if req.Mode == ModeNormal {
		return r.attempt(req, class, req.Type, attempts)
	}

	if len(req.ArgTypes) != req.Type.NumParams() {
		return nil, &Error{Kind: KindWrongMethodType, Op: "resolve", Method: req.Name, Type: req.Type.String(),
			Err: fmt.Errorf("%d explicit argument types for %d parameters", len(req.ArgTypes), req.Type.NumParams())}
	}
	argTypes := make([]*typemodel.Type, len(req.ArgTypes))
	for i, t := range req.ArgTypes {
		if t == nil {
			t = req.Type.Param(i)
		}
		argTypes[i] = t
	}

	h, err := r.attempt(req, class, req.Type.WithParams(argTypes...), attempts)
	if err == nil {
		return h, nil
	}
	first := err
	var suppressed []error

	slots := make([][]*typemodel.Type, len(argTypes))
	for i, t := range argTypes {
		slots[i] = Candidates(t)
	}
	skip := true
	for combo := range Combinations(slots) {
		// The all-exact combination is the fast path already tried.
		if skip {
			skip = false
			continue
		}
		h, err := r.attempt(req, class, req.Type.WithParams(combo...), attempts)
		if err == nil {
			return h, nil
		}
		suppressed = append(suppressed, err)
	}

	return nil, &Error{
		Kind:       KindNoSuchMethod,
		Op:         "resolve dynamic",
		Method:     class.Name() + "." + req.Name,
		Type:       req.Type.String(),
		Err:        first,
		Suppressed: suppressed,
	}
}

// attempt looks up one exact signature and adapts the result to the
// nominal call type.
func (r *Resolver) attempt(req Request, class *typemodel.Type, sig typemodel.Signature, attempts *int) (*Handle, error) {
	*attempts++
	r.attempts.Add(1)

	var h *Handle
	var err error
	switch req.Kind {
	case InvokeStatic:
		h, err = req.Lookup.FindStatic(class, req.Name, sig)
		if err != nil {
			return nil, err
		}
		return h.AsType(req.Type)
	default:
		h, err = req.Lookup.FindVirtual(class, req.Name, sig)
		if err != nil {
			return nil, err
		}
		if req.Unbound {
			return h.AsType(req.Type.Prepend(class))
		}
		bound, err := h.BindTo(req.Receiver)
		if err != nil {
			return nil, err
		}
		return bound.AsType(req.Type)
	}
}

// Candidates returns the widening candidates of t: t itself, its proper
// supertypes from most to least specific, and the root.
func Candidates(t *typemodel.Type) []*typemodel.Type {
	root := t.Universe().Root()
	if t == root {
		return []*typemodel.Type{root}
	}
	out := append([]*typemodel.Type{t}, typemodel.SupertypesOf(t)...)
	return append(out, root)
}

// Combinations yields every selection of one type per slot as a mixed-radix
// counter: the last slot varies fastest. Each yielded slice is fresh.
func Combinations(slots [][]*typemodel.Type) iter.Seq[[]*typemodel.Type] {
	return func(yield func([]*typemodel.Type) bool) {
		for _, s := range slots {
			if len(s) == 0 {
				return
			}
		}
		idx := make([]int, len(slots))
		for {
			combo := make([]*typemodel.Type, len(slots))
			for i, s := range slots {
				combo[i] = s[idx[i]]
			}
			if !yield(combo) {
				return
			}
			i := len(slots) - 1
			for ; i >= 0; i-- {
				idx[i]++
				if idx[i] < len(slots[i]) {
					break
				}
				idx[i] = 0
			}
			if i < 0 {
				return
			}
		}
	}
}

func typeList(ts []*typemodel.Type) string {
	if ts == nil {
		return ""
	}
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = "null"
		if t != nil {
			parts[i] = t.Name()
		}
	}
	return "(" + strings.Join(parts, ",") + ")"
}
