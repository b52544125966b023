// Package generator emits implementations of model interfaces whose methods
// forward to dispatch call sites.
package generator

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/abramin/dynlink/internal/callsite"
	"github.com/abramin/dynlink/internal/dispatch"
	"github.com/abramin/dynlink/internal/registry"
	"github.com/abramin/dynlink/internal/typemodel"
)

// ImplementationRecord describes one generated method for dumps.
type ImplementationRecord struct {
	Impl      string
	Interface string
	Method    string
	Signature string
	Strategy  string
	Source    string
	ExtraArgs []int
	SiteID    string
	Caller    string
	CreatedAt time.Time
}

// Sink persists generated implementations. Implementations must be safe for
// concurrent use.
type Sink interface {
	RecordImplementation(rec ImplementationRecord) error
}

// Generator creates implementations. It is safe for concurrent use once the
// universe, registry and resolver are set up.
type Generator struct {
	universe *typemodel.Universe
	registry *registry.Registry
	resolver *dispatch.Resolver
	logger   *slog.Logger
	sink     Sink

	seq atomic.Int64
}

// Option configures a Generator.
type Option func(*Generator)

func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithSink enables implementation dumps.
func WithSink(s Sink) Option {
	return func(g *Generator) { g.sink = s }
}

// New creates a generator.
func New(u *typemodel.Universe, reg *registry.Registry, resolver *dispatch.Resolver, opts ...Option) *Generator {
	g := &Generator{
		universe: u,
		registry: reg,
		resolver: resolver,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Implement generates an implementation of ifaces. caller is the linkage
// context identity the call sites resolve on behalf of; it may be nil.
func (g *Generator) Implement(caller *typemodel.Type, ifaces ...*typemodel.Type) (*Impl, error) {
	return g.implement(g.registry, caller, ifaces)
}

// ImplementWith is like Implement but uses s for every method.
func (g *Generator) ImplementWith(s callsite.Strategy, caller *typemodel.Type, ifaces ...*typemodel.Type) (*Impl, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("implementing with %s: unknown strategy", s)
	}
	return g.implement(registry.Fixed(s), caller, ifaces)
}

func (g *Generator) implement(reg *registry.Registry, caller *typemodel.Type, ifaces []*typemodel.Type) (*Impl, error) {
	if len(ifaces) == 0 {
		return nil, fmt.Errorf("implementing: at least one interface is required")
	}
	for _, it := range ifaces {
		if it == nil || !it.IsInterface() {
			return nil, fmt.Errorf("implementing: %s is not an interface", it)
		}
	}

	methods, err := abstractMethods(ifaces)
	if err != nil {
		return nil, err
	}

	impl := &Impl{ifaces: append([]*typemodel.Type(nil), ifaces...)}
	link := &callsite.Linkage{
		Lookup:   dispatch.NewLookup(g.universe, caller),
		Resolver: g.resolver,
		Logger:   g.logger,
	}
	for _, m := range methods {
		d, err := reg.StrategyFor(m)
		if err != nil {
			return nil, fmt.Errorf("implementing %s: %w", m, err)
		}
		site, err := callsite.Bootstrap(link, d.Strategy, d.MethodName, d.Signature, d.ExtraArgs...)
		if err != nil {
			return nil, fmt.Errorf("implementing %s: %w", m, err)
		}
		impl.methods = append(impl.methods, &ImplMethod{Descriptor: d, Site: site})
	}

	// Defined only once every site has bootstrapped.
	class, err := g.defineClass(ifaces)
	if err != nil {
		return nil, err
	}
	impl.class = class

	g.logger.Info("implementation generated",
		"impl", class.Name(),
		"interfaces", len(ifaces),
		"methods", len(impl.methods),
	)
	g.dump(impl, caller)
	return impl, nil
}

func (g *Generator) defineClass(ifaces []*typemodel.Type) (*typemodel.Type, error) {
	base := ifaces[0].Name() + "Impl$"
	for {
		name := base + strconv.FormatInt(g.seq.Add(1), 10)
		if _, exists := g.universe.Lookup(name); exists {
			continue
		}
		return g.universe.Class(name, nil, ifaces...)
	}
}

func (g *Generator) dump(impl *Impl, caller *typemodel.Type) {
	if g.sink == nil {
		return
	}
	callerName := ""
	if caller != nil {
		callerName = caller.Name()
	}
	now := time.Now()
	for _, m := range impl.methods {
		rec := ImplementationRecord{
			Impl:      impl.Name(),
			Interface: m.Descriptor.Method.Owner.Name(),
			Method:    m.Descriptor.MethodName,
			Signature: m.Descriptor.Signature.String(),
			Strategy:  m.Descriptor.Strategy.String(),
			Source:    m.Descriptor.Source,
			ExtraArgs: m.Descriptor.ExtraArgs,
			SiteID:    m.Site.ID().String(),
			Caller:    callerName,
			CreatedAt: now,
		}
		if err := g.sink.RecordImplementation(rec); err != nil {
			g.logger.Warn("dumping implementation failed", "impl", impl.Name(), "method", rec.Method, "error", err)
		}
	}
}

// abstractMethods collects the abstract methods of ifaces and their
// super-interfaces. A method reachable through several interfaces is
// implemented once.
func abstractMethods(ifaces []*typemodel.Type) ([]*typemodel.Method, error) {
	var out []*typemodel.Method
	seen := make(map[*typemodel.Type]bool)
	for _, it := range ifaces {
		for _, t := range append([]*typemodel.Type{it}, typemodel.SupertypesOf(it)...) {
			if seen[t] {
				continue
			}
			seen[t] = true
			for _, m := range t.Methods() {
				if !m.Abstract || m.Static || contains(out, m) {
					continue
				}
				if m.Sig.NumParams() == 0 {
					return nil, fmt.Errorf("implementing %s: method has no receiver parameter", m)
				}
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func contains(ms []*typemodel.Method, m *typemodel.Method) bool {
	for _, o := range ms {
		if o.Name == m.Name && o.Sig.Equal(m.Sig) {
			return true
		}
	}
	return false
}
