package callsite

import (
	"fmt"
	"strings"
)

// Strategy selects how a call site finds and caches its target.
type Strategy int

const (
	// StaticBind resolves a static method once, when the site is created.
	StaticBind Strategy = iota + 1
	// VirtualPerCall resolves against the receiver's runtime class on every call.
	VirtualPerCall
	// VirtualPerCallDynamic is VirtualPerCall with the widening search over
	// the runtime argument types.
	VirtualPerCallDynamic
	// LateBindOnce resolves on the first call and freezes the result.
	LateBindOnce
)

var strategyNames = map[Strategy]string{
	StaticBind:            "static-bind",
	VirtualPerCall:        "virtual-per-call",
	VirtualPerCallDynamic: "virtual-per-call-dynamic",
	LateBindOnce:          "late-bind-once",
}

var strategyAliases = map[string]Strategy{
	"dynamic-dispatch": VirtualPerCall,
	"late-binding":     LateBindOnce,
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	_, ok := strategyNames[s]
	return ok
}

// ParseStrategy parses a strategy name, case-insensitively.
func ParseStrategy(name string) (Strategy, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for s, n := range strategyNames {
		if n == key {
			return s, nil
		}
	}
	if s, ok := strategyAliases[key]; ok {
		return s, nil
	}
	return 0, fmt.Errorf("unknown dispatch strategy %q", name)
}

// Strategies returns every strategy in declaration order.
func Strategies() []Strategy {
	return []Strategy{StaticBind, VirtualPerCall, VirtualPerCallDynamic, LateBindOnce}
}
