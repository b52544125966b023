package callsite

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/abramin/dynlink/internal/dispatch"
	"github.com/abramin/dynlink/internal/typemodel"
	"golang.org/x/sync/errgroup"
)

type fixture struct {
	u          *typemodel.Universe
	obj, str   *typemodel.Type
	intT       *typemodel.Type
	myObject   *typemodel.Type
	myObject2  *typemodel.Type
	resolver   *dispatch.Resolver
	link       *Linkage
	helloType  typemodel.Signature
	helloNType typemodel.Signature
}

func method(t *typemodel.Type, name string, static bool, ret *typemodel.Type, fn typemodel.Func, params ...*typemodel.Type) {
	if err := t.Declare(&typemodel.Method{Name: name, Static: static, Sig: typemodel.NewSignature(ret, params...), Func: fn}); err != nil {
		panic(err)
	}
}

func newFixture() *fixture {
	u := typemodel.NewUniverse()
	f := &fixture{
		u:    u,
		obj:  u.Root(),
		str:  u.MustLookup(typemodel.StringName),
		intT: u.MustLookup(typemodel.IntName),
	}
	f.myObject = u.MustClass("MyObject", nil)
	f.myObject2 = u.MustClass("MyObject2", nil)

	method(f.myObject, "hello", false, f.str, func(any, []any) (any, error) { return "Hello man", nil })
	method(f.myObject, "hello", false, f.str, func(_ any, a []any) (any, error) {
		return fmt.Sprintf("Hello %v times.", a[0]), nil
	}, f.intT)
	method(f.myObject2, "hello", false, f.str, func(any, []any) (any, error) { return "Hello man2", nil })

	f.resolver = dispatch.NewResolver()
	f.link = &Linkage{Lookup: dispatch.NewLookup(u, nil), Resolver: f.resolver}
	f.helloType = typemodel.NewSignature(f.str, f.obj)
	f.helloNType = typemodel.NewSignature(f.str, f.obj, f.intT)
	return f
}

func TestLateBindOnceFreezes(t *testing.T) {
	f := newFixture()
	cs, err := Bootstrap(f.link, LateBindOnce, "hello", f.helloType)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if cs.State() != Unresolved {
		t.Fatalf("new site state = %s", cs.State())
	}

	out, err := cs.Invoke(typemodel.New(f.myObject, nil))
	if err != nil || out != "Hello man" {
		t.Fatalf("first call = %v, %v", out, err)
	}
	if cs.State() != Resolved {
		t.Errorf("state after first call = %s", cs.State())
	}
	frozen := cs.Target()
	if !frozen.Type().Equal(f.helloType) {
		t.Errorf("frozen target type %s, want declared %s", frozen.Type(), f.helloType)
	}

	for i := 0; i < 5; i++ {
		if out, err := cs.Invoke(typemodel.New(f.myObject, nil)); err != nil || out != "Hello man" {
			t.Fatalf("call %d = %v, %v", i, out, err)
		}
	}
	if got := f.resolver.Stats().Resolutions; got != 1 {
		t.Errorf("resolutions = %d, want 1", got)
	}
	if cs.Resolutions() != 1 {
		t.Errorf("site resolutions = %d, want 1", cs.Resolutions())
	}

	// A receiver of another class hits the frozen target and fails.
	_, err = cs.Invoke(typemodel.New(f.myObject2, nil))
	if !errors.Is(err, dispatch.ErrTypeMismatch) {
		t.Fatalf("expected type mismatch after freeze, got %v", err)
	}
	if cs.Target() != frozen || cs.State() != Resolved {
		t.Error("a mismatch must not re-resolve or unfreeze the site")
	}
	if f.resolver.Stats().Resolutions != 1 {
		t.Error("a mismatch must not trigger resolution")
	}
}

func TestLateBindOnceOnlyReceiverMismatchNamesFrozenTarget(t *testing.T) {
	f := newFixture()
	method(f.myObject, "take", false, f.str, func(_ any, a []any) (any, error) {
		if _, ok := a[0].(string); !ok {
			return nil, &dispatch.Error{Kind: dispatch.KindTypeMismatch, Op: "take", Err: fmt.Errorf("want a string")}
		}
		return "took", nil
	}, f.obj)
	cs, err := Bootstrap(f.link, LateBindOnce, "take", typemodel.NewSignature(f.str, f.obj, f.obj))
	if err != nil {
		t.Fatal(err)
	}
	recv := typemodel.New(f.myObject, nil)
	if out, err := cs.Invoke(recv, "s"); err != nil || out != "took" {
		t.Fatalf("first call = %v, %v", out, err)
	}

	tests := []struct {
		name       string
		recv       any
		wantFrozen bool
	}{
		{"callee mismatch", recv, false},
		{"receiver mismatch", typemodel.New(f.myObject2, nil), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cs.Invoke(tt.recv, 7)
			if !errors.Is(err, dispatch.ErrTypeMismatch) {
				t.Fatalf("expected type mismatch, got %v", err)
			}
			if got := strings.Contains(err.Error(), "frozen to"); got != tt.wantFrozen {
				t.Errorf("error %q names frozen target = %v, want %v", err, got, tt.wantFrozen)
			}
		})
	}
	if f.resolver.Stats().Resolutions != 1 {
		t.Error("a mismatch must not trigger resolution")
	}
}

func TestLateBindOnceFrozenNilReceiver(t *testing.T) {
	f := newFixture()
	cs, err := Bootstrap(f.link, LateBindOnce, "hello", f.helloType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cs.Invoke(typemodel.New(f.myObject, nil)); err != nil {
		t.Fatal(err)
	}
	for _, recv := range []any{nil, (*typemodel.Instance)(nil)} {
		if _, err := cs.Invoke(recv); !errors.Is(err, dispatch.ErrNilReceiver) {
			t.Errorf("Invoke(%#v) error = %v, want nil receiver", recv, err)
		}
	}
}

func TestLateBindOnceFailureStaysUnresolved(t *testing.T) {
	f := newFixture()
	silent := f.u.MustClass("Silent", nil)
	cs, err := Bootstrap(f.link, LateBindOnce, "hello", f.helloType)
	if err != nil {
		t.Fatal(err)
	}

	_, err = cs.Invoke(typemodel.New(silent, nil))
	if !errors.Is(err, dispatch.ErrNoSuchMethod) {
		t.Fatalf("expected no such method, got %v", err)
	}
	if cs.State() != Unresolved {
		t.Fatalf("failed resolution must leave the site unresolved, got %s", cs.State())
	}

	out, err := cs.Invoke(typemodel.New(f.myObject2, nil))
	if err != nil || out != "Hello man2" {
		t.Fatalf("retry = %v, %v", out, err)
	}
	if cs.State() != Resolved {
		t.Errorf("state = %s", cs.State())
	}
}

func TestLateBindOnceConcurrentFirstCalls(t *testing.T) {
	f := newFixture()
	cs, err := Bootstrap(f.link, LateBindOnce, "hello", f.helloType)
	if err != nil {
		t.Fatal(err)
	}

	const callers = 32
	start := make(chan struct{})
	var g errgroup.Group
	var mu sync.Mutex
	results := make(map[any]int)
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			<-start
			out, err := cs.Invoke(typemodel.New(f.myObject, nil))
			if err != nil {
				return err
			}
			mu.Lock()
			results[out]++
			mu.Unlock()
			return nil
		})
	}
	close(start)
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent call failed: %v", err)
	}
	if results["Hello man"] != callers {
		t.Errorf("results = %v", results)
	}
	if cs.State() != Resolved {
		t.Errorf("state = %s", cs.State())
	}
	n := cs.Resolutions()
	if n < 1 || n > callers {
		t.Errorf("resolutions = %d, want between 1 and %d", n, callers)
	}

	// Once frozen, no further resolution happens.
	if _, err := cs.Invoke(typemodel.New(f.myObject, nil)); err != nil {
		t.Fatal(err)
	}
	if cs.Resolutions() != n {
		t.Error("frozen site resolved again")
	}
}

func TestVirtualPerCallFollowsReceiver(t *testing.T) {
	f := newFixture()
	cs, err := Bootstrap(f.link, VirtualPerCall, "hello", f.helloType,
		int(dispatch.InvokeVirtual), int(dispatch.ModeNormal))
	if err != nil {
		t.Fatal(err)
	}
	if cs.State() != PerCall {
		t.Errorf("state = %s", cs.State())
	}

	tests := []struct {
		recv *typemodel.Type
		want string
	}{
		{f.myObject, "Hello man"},
		{f.myObject2, "Hello man2"},
		{f.myObject, "Hello man"},
	}
	for _, tt := range tests {
		out, err := cs.Invoke(typemodel.New(tt.recv, nil))
		if err != nil || out != tt.want {
			t.Errorf("Invoke(%s) = %v, %v; want %s", tt.recv, out, err, tt.want)
		}
	}
	if cs.Resolutions() != 3 {
		t.Errorf("resolutions = %d, want one per call", cs.Resolutions())
	}
}

func TestVirtualPerCallWithArguments(t *testing.T) {
	f := newFixture()
	cs, err := Bootstrap(f.link, VirtualPerCall, "hello", f.helloNType)
	if err != nil {
		t.Fatal(err)
	}
	out, err := cs.Invoke(typemodel.New(f.myObject, nil), 9)
	if err != nil || out != "Hello 9 times." {
		t.Fatalf("got %v, %v", out, err)
	}
	_, err = cs.Invoke(typemodel.New(f.myObject2, nil), 9)
	if !errors.Is(err, dispatch.ErrNoSuchMethod) {
		t.Errorf("expected no such method, got %v", err)
	}
}

func TestVirtualPerCallStaticInvoke(t *testing.T) {
	f := newFixture()
	method(f.myObject, "describe", true, f.str, func(recv any, a []any) (any, error) {
		return fmt.Sprintf("static %v", a[0]), nil
	}, f.intT)
	cs, err := Bootstrap(f.link, VirtualPerCall, "describe", f.helloNType,
		int(dispatch.InvokeStatic), int(dispatch.ModeNormal))
	if err != nil {
		t.Fatal(err)
	}
	out, err := cs.Invoke(typemodel.New(f.myObject, nil), 3)
	if err != nil || out != "static 3" {
		t.Errorf("got %v, %v", out, err)
	}
}

func TestVirtualPerCallDynamicUsesRuntimeTypes(t *testing.T) {
	f := newFixture()
	number := f.u.MustLookup(typemodel.NumberName)
	method(f.myObject, "show", false, f.str, func(_ any, a []any) (any, error) {
		return fmt.Sprintf("number %v", a[0]), nil
	}, number)
	method(f.myObject, "show", false, f.str, func(_ any, a []any) (any, error) {
		return fmt.Sprintf("object %v", a[0]), nil
	}, f.obj)

	cs, err := Bootstrap(f.link, VirtualPerCallDynamic, "show", typemodel.NewSignature(f.str, f.obj, f.obj),
		int(dispatch.InvokeVirtual), int(dispatch.ModeDynamic))
	if err != nil {
		t.Fatal(err)
	}
	recv := typemodel.New(f.myObject, nil)
	tests := []struct {
		arg  any
		want string
	}{
		{7, "number 7"},
		{"x", "object x"},
		{nil, "object <nil>"},
		{(*typemodel.Instance)(nil), "object <nil>"},
	}
	for _, tt := range tests {
		out, err := cs.Invoke(recv, tt.arg)
		if err != nil || out != tt.want {
			t.Errorf("show(%v) = %v, %v; want %s", tt.arg, out, err, tt.want)
		}
	}
}

func TestStaticBindIsExactAndEager(t *testing.T) {
	f := newFixture()
	util := f.u.MustClass("Util", nil)
	method(util, "greet", true, f.str, func(recv any, a []any) (any, error) {
		return fmt.Sprintf("Hi %v", a[0]), nil
	}, f.str)
	method(util, "wide", true, f.str, func(any, []any) (any, error) { return "", nil }, f.obj)
	method(util, "inst", false, f.str, func(any, []any) (any, error) { return "", nil }, f.str)

	cs, err := Bootstrap(f.link, StaticBind, "greet", typemodel.NewSignature(f.str, util, f.str))
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if cs.State() != Resolved {
		t.Errorf("static site state = %s", cs.State())
	}
	out, err := cs.Invoke(nil, "Bob")
	if err != nil || out != "Hi Bob" {
		t.Errorf("got %v, %v", out, err)
	}

	tests := []struct {
		name string
		sig  typemodel.Signature
	}{
		{"greet", typemodel.NewSignature(f.obj, util, f.str)},
		{"wide", typemodel.NewSignature(f.str, util, f.str)},
		{"inst", typemodel.NewSignature(f.str, util, f.str)},
		{"missing", typemodel.NewSignature(f.str, util)},
	}
	for _, tt := range tests {
		_, err := Bootstrap(f.link, StaticBind, tt.name, tt.sig)
		if !errors.Is(err, dispatch.ErrNoSuchMethod) {
			t.Errorf("Bootstrap(%s%s) error = %v, want no such method", tt.name, tt.sig, err)
		}
	}
}

func TestStaticBindUsesDeclaredOwner(t *testing.T) {
	f := newFixture()
	util := f.u.MustClass("Util", nil)
	sub := f.u.MustClass("SubUtil", util)
	method(util, "greet", true, f.str, func(any, []any) (any, error) { return "util", nil })
	method(sub, "greet", true, f.str, func(any, []any) (any, error) { return "sub", nil })

	cs, err := Bootstrap(f.link, StaticBind, "greet", typemodel.NewSignature(f.str, util))
	if err != nil {
		t.Fatal(err)
	}
	for _, recv := range []any{nil, typemodel.New(util, nil), typemodel.New(sub, nil)} {
		if out, err := cs.Invoke(recv); err != nil || out != "util" {
			t.Errorf("Invoke(%v) = %v, %v; want util", recv, out, err)
		}
	}
}

func TestBootstrapRejectsBadArguments(t *testing.T) {
	f := newFixture()
	tests := []struct {
		name  string
		s     Strategy
		sig   typemodel.Signature
		extra []int
		want  error
	}{
		{"bad kind", VirtualPerCall, f.helloType, []int{9, 0}, dispatch.ErrInvalidInvocationMode},
		{"bad flag", VirtualPerCall, f.helloType, []int{1, 4}, dispatch.ErrInvalidStrategyFlag},
		{"wrong count", VirtualPerCall, f.helloType, []int{1}, dispatch.ErrInvalidStrategyFlag},
		{"dynamic without flag", VirtualPerCallDynamic, f.helloType, []int{1, 0}, dispatch.ErrInvalidStrategyFlag},
		{"no receiver", LateBindOnce, typemodel.NewSignature(f.str), nil, dispatch.ErrWrongMethodType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Bootstrap(f.link, tt.s, "hello", tt.sig, tt.extra...)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := Bootstrap(f.link, Strategy(42), "hello", f.helloType); err == nil {
		t.Error("unknown strategy should fail")
	}
}

func TestSetTargetChecksType(t *testing.T) {
	f := newFixture()
	cs, err := Bootstrap(f.link, LateBindOnce, "hello", f.helloType)
	if err != nil {
		t.Fatal(err)
	}
	bad := dispatch.NewHandle(f.u, "bad", typemodel.NewSignature(f.str), func([]any) (any, error) { return nil, nil })
	if err := cs.SetTarget(bad); !errors.Is(err, dispatch.ErrWrongMethodType) {
		t.Errorf("expected wrong method type, got %v", err)
	}

	fixed := dispatch.NewHandle(f.u, "fixed", f.helloType, func([]any) (any, error) { return "fixed", nil })
	old := cs.Target()
	swapped, err := cs.CompareAndSwap(old, fixed)
	if err != nil || !swapped {
		t.Fatalf("CompareAndSwap = %v, %v", swapped, err)
	}
	swapped, _ = cs.CompareAndSwap(old, fixed)
	if swapped {
		t.Error("stale CompareAndSwap should fail")
	}
	if out, _ := cs.Invoke(nil); out != "fixed" {
		t.Errorf("got %v", out)
	}
}

func TestParseStrategy(t *testing.T) {
	tests := map[string]Strategy{
		"static-bind":              StaticBind,
		"Virtual-Per-Call":         VirtualPerCall,
		"virtual-per-call-dynamic": VirtualPerCallDynamic,
		"late-bind-once":           LateBindOnce,
		"dynamic-dispatch":         VirtualPerCall,
		"late-binding":             LateBindOnce,
	}
	for name, want := range tests {
		got, err := ParseStrategy(name)
		if err != nil || got != want {
			t.Errorf("ParseStrategy(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseStrategy("sometimes"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
