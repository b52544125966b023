// Package registry decides which dispatch strategy each abstract method uses.
package registry

import (
	"fmt"

	"github.com/abramin/dynlink/internal/callsite"
	"github.com/abramin/dynlink/internal/config"
	"github.com/abramin/dynlink/internal/dispatch"
	"github.com/abramin/dynlink/internal/typemodel"
)

// Descriptor is everything the generator needs to emit one method.
type Descriptor struct {
	Method     *typemodel.Method
	MethodName string
	// Signature is the nominal method type, receiver first.
	Signature typemodel.Signature
	Strategy  callsite.Strategy
	// Source records which rule selected the strategy.
	Source    string
	ExtraArgs []int
}

// Registry maps abstract methods to strategies. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	cfg   config.StrategyConfig
	fixed callsite.Strategy
}

// New builds a registry from configuration, rejecting unknown strategy names.
func New(cfg config.StrategyConfig) (*Registry, error) {
	check := func(where, name string) error {
		if _, err := callsite.ParseStrategy(name); err != nil {
			return fmt.Errorf("strategies.%s: %w", where, err)
		}
		return nil
	}
	if cfg.Default != "" {
		if err := check("default", cfg.Default); err != nil {
			return nil, err
		}
	}
	for key, name := range cfg.Methods {
		if err := check("methods["+key+"]", name); err != nil {
			return nil, err
		}
	}
	for name := range cfg.Scopes {
		if err := check("scopes", name); err != nil {
			return nil, err
		}
	}
	return &Registry{cfg: cfg}, nil
}

// Fixed returns a registry that assigns s to every method, ignoring
// annotations and configuration.
func Fixed(s callsite.Strategy) *Registry {
	return &Registry{fixed: s}
}

// StrategyFor computes the descriptor of an abstract method. The strategy is
// taken from, in order: the method's own annotation, the configured method
// entry, then each declaring scope from the innermost outward (annotation
// first, then configured scope patterns), and finally the configured
// default. With none of these the method has no strategy and generation
// must stop.
func (r *Registry) StrategyFor(m *typemodel.Method) (*Descriptor, error) {
	if m == nil || m.Owner == nil {
		return nil, fmt.Errorf("strategy lookup: method has no owner")
	}
	if m.Sig.NumParams() == 0 {
		return nil, &dispatch.Error{Kind: dispatch.KindWrongMethodType, Op: "strategy lookup", Method: m.QualifiedName(),
			Type: m.Sig.String(), Err: fmt.Errorf("method has no receiver parameter")}
	}

	s, source, err := r.lookup(m)
	if err != nil {
		return nil, err
	}
	if s == callsite.VirtualPerCall && m.Annotations.Dynamic {
		s = callsite.VirtualPerCallDynamic
	}

	d := &Descriptor{
		Method:     m,
		MethodName: m.Name,
		Signature:  m.Sig,
		Strategy:   s,
		Source:     source,
	}
	switch s {
	case callsite.VirtualPerCall, callsite.VirtualPerCallDynamic:
		kind := dispatch.InvokeVirtual
		if m.Annotations.Static {
			kind = dispatch.InvokeStatic
		}
		mode := dispatch.ModeNormal
		if s == callsite.VirtualPerCallDynamic {
			mode = dispatch.ModeDynamic
		}
		d.ExtraArgs = []int{int(kind), int(mode)}
	}
	return d, nil
}

func (r *Registry) lookup(m *typemodel.Method) (callsite.Strategy, string, error) {
	if r.fixed != 0 {
		return r.fixed, "fixed", nil
	}
	if name := m.Annotations.Strategy; name != "" {
		return parse(name, "method annotation")
	}
	if name := r.cfg.StrategyForMethod(m.QualifiedName(), m.Sig.String()); name != "" {
		return parse(name, "method config")
	}
	for scope := m.Owner; scope != nil; scope = scope.Enclosing() {
		if scope.Strategy != "" {
			return parse(scope.Strategy, "scope annotation "+scope.Name())
		}
		if name := r.cfg.StrategyForScope(scope.Name()); name != "" {
			return parse(name, "scope config "+scope.Name())
		}
	}
	if r.cfg.Default != "" {
		return parse(r.cfg.Default, "default")
	}
	return 0, "", &dispatch.Error{
		Kind:   dispatch.KindMissingStrategy,
		Op:     "strategy lookup",
		Method: m.QualifiedName(),
		Type:   m.Sig.String(),
	}
}

func parse(name, source string) (callsite.Strategy, string, error) {
	s, err := callsite.ParseStrategy(name)
	if err != nil {
		return 0, "", fmt.Errorf("%s: %w", source, err)
	}
	return s, source, nil
}
