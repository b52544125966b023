package dispatch

import (
	"errors"
	"strings"
	"testing"

	"github.com/abramin/dynlink/internal/typemodel"
)

func TestResolveDynamicStringifier(t *testing.T) {
	w := newWorld()
	lk := NewLookup(w.u, nil)

	tests := []struct {
		name     string
		args     []any
		want     string
		selected string
		attempts int
	}{
		{
			name:     "exact string",
			args:     []any{"Hello"},
			want:     "Hello",
			selected: "MyStringifier.stringify(String)String",
			attempts: 1,
		},
		{
			name:     "person widened to interface",
			args:     []any{w.mary},
			want:     "Person{name=Mary,arg=30}",
			selected: "MyStringifier.stringify(Person)String",
			attempts: 2,
		},
		{
			name:     "string null entity",
			args:     []any{"h", nil, w.en},
			want:     "Object[h] & Object[null] & Entity[Entity{id=en}]",
			selected: "MyStringifier.stringify(Object,Object,Entity)String",
			attempts: 5,
		},
		{
			name:     "person null entity",
			args:     []any{w.mary, nil, w.en},
			want:     "Person[Person{name=Mary,age=30}] & Object[null] & Entity[Entity{id=en}]",
			selected: "MyStringifier.stringify(Person,Object,Entity)String",
			attempts: 5,
		},
		{
			name:     "person null null",
			args:     []any{w.mary, nil, nil},
			want:     "Object[Person{name=Mary,age=30}] & Object[null] & Object[null]",
			selected: "MyStringifier.stringify(Object,Object,Object)String",
			attempts: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recordingObserver{}
			r := NewResolver(WithObserver(obs))
			h, err := r.Resolve(Request{
				Lookup:   lk,
				Receiver: w.s,
				Name:     "stringify",
				Type:     typemodel.NewSignature(w.str, w.objects(len(tt.args))...),
				Kind:     InvokeVirtual,
				Mode:     ModeDynamic,
				ArgTypes: w.argTypes(tt.args...),
			})
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got := h.Method().String(); got != tt.selected {
				t.Errorf("selected %s, want %s", got, tt.selected)
			}
			out, err := h.Invoke(tt.args...)
			if err != nil {
				t.Fatalf("Invoke: %v", err)
			}
			if out != tt.want {
				t.Errorf("got %q, want %q", out, tt.want)
			}
			if len(obs.events) != 1 {
				t.Fatalf("expected 1 event, got %d", len(obs.events))
			}
			if obs.events[0].Attempts != tt.attempts {
				t.Errorf("attempts = %d, want %d", obs.events[0].Attempts, tt.attempts)
			}
			if got := r.Stats().Attempts; got != int64(tt.attempts) {
				t.Errorf("stats attempts = %d, want %d", got, tt.attempts)
			}
		})
	}
}

func TestResolveFastPathWins(t *testing.T) {
	w := newWorld()
	// An exact overload next to widened ones must win without any search.
	declare(w.stringifier, "stringify", w.str, func(_ any, _ []any) (any, error) {
		return "exact", nil
	}, w.personImpl, w.obj, w.entityImpl)

	r := NewResolver()
	h, err := r.Resolve(Request{
		Lookup:   NewLookup(w.u, nil),
		Receiver: w.s,
		Name:     "stringify",
		Type:     typemodel.NewSignature(w.str, w.objects(3)...),
		Kind:     InvokeVirtual,
		Mode:     ModeDynamic,
		ArgTypes: w.argTypes(w.mary, nil, w.en),
	})
	if err != nil {
		t.Fatal(err)
	}
	out, _ := h.Invoke(w.mary, nil, w.en)
	if out != "exact" {
		t.Errorf("got %v, want exact", out)
	}
	if got := r.Stats().Attempts; got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestResolveDynamicNoMatch(t *testing.T) {
	w := newWorld()
	r := NewResolver()
	plain := typemodel.New(w.u.MustClass("Plain", nil), nil)

	_, err := r.Resolve(Request{
		Lookup:   NewLookup(w.u, nil),
		Receiver: plain,
		Name:     "stringify",
		Type:     typemodel.NewSignature(w.str, w.objects(2)...),
		Kind:     InvokeVirtual,
		Mode:     ModeDynamic,
		ArgTypes: w.argTypes(w.mary, w.en),
	})
	if !errors.Is(err, ErrNoSuchMethod) {
		t.Fatalf("expected ErrNoSuchMethod, got %v", err)
	}
	var de *Error
	if !errors.As(err, &de) {
		t.Fatal("expected *Error")
	}
	// 3 x 3 combinations minus the fast path already held in Err.
	if len(de.Suppressed) != 8 {
		t.Errorf("suppressed = %d, want 8", len(de.Suppressed))
	}
	if de.Err == nil {
		t.Error("fast path failure should be kept as the cause")
	}
	if IsFatal(err) {
		t.Error("no such method is recoverable")
	}
	if r.Stats().Failures != 1 {
		t.Errorf("failures = %d", r.Stats().Failures)
	}
}

func TestResolveNullArgumentUsesDeclaredType(t *testing.T) {
	w := newWorld()
	r := NewResolver()
	// Declared slot type Person: a nil argument resolves as Person directly.
	h, err := r.Resolve(Request{
		Lookup:   NewLookup(w.u, nil),
		Receiver: w.s,
		Name:     "stringify",
		Type:     typemodel.NewSignature(w.str, w.person),
		Kind:     InvokeVirtual,
		Mode:     ModeDynamic,
		ArgTypes: []*typemodel.Type{nil},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := h.Method().Sig.String(); got != "(Person)String" {
		t.Errorf("selected %s", got)
	}
	if r.Stats().Attempts != 1 {
		t.Errorf("nil argument should resolve on the fast path, attempts = %d", r.Stats().Attempts)
	}
}

func TestResolveNormalModeIsExact(t *testing.T) {
	w := newWorld()
	r := NewResolver()
	lk := NewLookup(w.u, nil)

	h, err := r.Resolve(Request{
		Lookup: lk, Receiver: w.s, Name: "stringify",
		Type: typemodel.NewSignature(w.str, w.obj), Kind: InvokeVirtual,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out, _ := h.Invoke(w.mary); out != "Person{name=Mary,age=30}" {
		t.Errorf("got %v", out)
	}

	_, err = r.Resolve(Request{
		Lookup: lk, Receiver: w.s, Name: "stringify",
		Type: typemodel.NewSignature(w.str, w.personImpl), Kind: InvokeVirtual,
	})
	if !errors.Is(err, ErrNoSuchMethod) {
		t.Errorf("normal mode must not widen, got %v", err)
	}
}

func TestResolveStatic(t *testing.T) {
	w := newWorld()
	util := w.u.MustClass("Util", nil)
	m := &typemodel.Method{
		Name:   "describe",
		Sig:    typemodel.NewSignature(w.str, w.obj),
		Static: true,
		Func: func(recv any, a []any) (any, error) {
			if recv != nil {
				t.Error("static method received a receiver")
			}
			return "static " + show(a[0]), nil
		},
	}
	if err := util.Declare(m); err != nil {
		t.Fatal(err)
	}
	r := NewResolver()
	h, err := r.Resolve(Request{
		Lookup: NewLookup(w.u, nil), Receiver: typemodel.New(util, nil), Name: "describe",
		Type: typemodel.NewSignature(w.str, w.obj), Kind: InvokeStatic,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out, _ := h.Invoke("x"); out != "static x" {
		t.Errorf("got %v", out)
	}

	// An instance method with the right shape is not a static match.
	_, err = r.Resolve(Request{
		Lookup: NewLookup(w.u, nil), Receiver: w.s, Name: "stringify",
		Type: typemodel.NewSignature(w.str, w.obj), Kind: InvokeStatic,
	})
	if !errors.Is(err, ErrNoSuchMethod) {
		t.Errorf("expected no such method, got %v", err)
	}
}

func TestResolveRejectsInvalidFlags(t *testing.T) {
	w := newWorld()
	r := NewResolver()
	base := Request{Lookup: NewLookup(w.u, nil), Receiver: w.s, Name: "stringify",
		Type: typemodel.NewSignature(w.str, w.obj)}

	req := base
	req.Kind = InvokeKind(7)
	_, err := r.Resolve(req)
	if !errors.Is(err, ErrInvalidInvocationMode) || !IsFatal(err) {
		t.Errorf("expected fatal invalid invocation mode, got %v", err)
	}

	req = base
	req.Kind = InvokeVirtual
	req.Mode = Mode(3)
	_, err = r.Resolve(req)
	if !errors.Is(err, ErrInvalidStrategyFlag) || !IsFatal(err) {
		t.Errorf("expected fatal invalid strategy flag, got %v", err)
	}

	req = base
	req.Kind = InvokeVirtual
	req.Receiver = nil
	_, err = r.Resolve(req)
	if !errors.Is(err, ErrNilReceiver) {
		t.Errorf("expected nil receiver, got %v", err)
	}
}

func TestCombinationsOrder(t *testing.T) {
	u := typemodel.NewUniverse()
	a, b := u.MustClass("A", nil), u.MustClass("B", nil)
	x, y, z := u.MustClass("X", nil), u.MustClass("Y", nil), u.MustClass("Z", nil)

	var got []string
	for combo := range Combinations([][]*typemodel.Type{{a, b}, {x, y, z}}) {
		got = append(got, combo[0].Name()+combo[1].Name())
	}
	want := "AX AY AZ BX BY BZ"
	if strings.Join(got, " ") != want {
		t.Errorf("order = %v, want %s", got, want)
	}

	n := 0
	for range Combinations(nil) {
		n++
	}
	if n != 1 {
		t.Errorf("zero slots should yield one empty combination, got %d", n)
	}
	for range Combinations([][]*typemodel.Type{{a}, {}}) {
		t.Error("an empty slot must yield nothing")
	}
}

func TestCandidates(t *testing.T) {
	w := newWorld()
	got := Candidates(w.personImpl)
	if len(got) != 3 || got[0] != w.personImpl || got[1] != w.person || got[2] != w.obj {
		t.Errorf("Candidates(PersonImpl) = %v", got)
	}
	if got := Candidates(w.obj); len(got) != 1 {
		t.Errorf("Candidates(root) = %v", got)
	}
}

// Two unrelated interfaces on one class: the search picks whichever the
// class lists first rather than reporting an ambiguity.
func TestResolveDiamondFirstSuccess(t *testing.T) {
	w := newWorld()
	named := w.u.MustInterface("Named")
	aged := w.u.MustInterface("Aged")
	printer := w.u.MustClass("Printer", nil)
	declare(printer, "print", w.str, func(_ any, _ []any) (any, error) { return "named", nil }, named)
	declare(printer, "print", w.str, func(_ any, _ []any) (any, error) { return "aged", nil }, aged)

	tests := []struct {
		class *typemodel.Type
		want  string
	}{
		{w.u.MustClass("NamedFirst", nil, named, aged), "named"},
		{w.u.MustClass("AgedFirst", nil, aged, named), "aged"},
	}
	for _, tt := range tests {
		t.Run(tt.class.Name(), func(t *testing.T) {
			arg := typemodel.New(tt.class, nil)
			r := NewResolver()
			h, err := r.Resolve(Request{
				Lookup:   NewLookup(w.u, nil),
				Receiver: typemodel.New(printer, nil),
				Name:     "print",
				Type:     typemodel.NewSignature(w.str, w.obj),
				Kind:     InvokeVirtual,
				Mode:     ModeDynamic,
				ArgTypes: w.argTypes(arg),
			})
			if err != nil {
				t.Fatal(err)
			}
			out, err := h.Invoke(arg)
			if err != nil {
				t.Fatal(err)
			}
			if out != tt.want {
				t.Errorf("got %v, want %v", out, tt.want)
			}
			if got := r.Stats().Attempts; got != 2 {
				t.Errorf("attempts = %d, want 2", got)
			}
		})
	}
}
