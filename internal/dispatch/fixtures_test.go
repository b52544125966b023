package dispatch

import (
	"fmt"

	"github.com/abramin/dynlink/internal/typemodel"
)

type world struct {
	u           *typemodel.Universe
	obj, str    *typemodel.Type
	person      *typemodel.Type
	entity      *typemodel.Type
	personImpl  *typemodel.Type
	entityImpl  *typemodel.Type
	stringifier *typemodel.Type
	mary, en    *typemodel.Instance
	s           *typemodel.Instance
}

func show(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprint(v)
}

func declare(t *typemodel.Type, name string, ret *typemodel.Type, fn typemodel.Func, params ...*typemodel.Type) *typemodel.Method {
	m := &typemodel.Method{Name: name, Sig: typemodel.NewSignature(ret, params...), Func: fn}
	if err := t.Declare(m); err != nil {
		panic(err)
	}
	return m
}

// newWorld builds the stringifier hierarchy used across resolver tests.
func newWorld() *world {
	u := typemodel.NewUniverse()
	w := &world{u: u, obj: u.Root(), str: u.MustLookup(typemodel.StringName)}
	w.person = u.MustInterface("Person")
	w.entity = u.MustInterface("Entity")
	w.personImpl = u.MustClass("PersonImpl", nil, w.person)
	w.personImpl.Format = func(in *typemodel.Instance) string {
		return fmt.Sprintf("Person{name=%v,age=%v}", in.Field("name"), in.Field("age"))
	}
	w.entityImpl = u.MustClass("EntityImpl", nil, w.entity)
	w.entityImpl.Format = func(in *typemodel.Instance) string {
		return fmt.Sprintf("Entity{id=%v}", in.Field("id"))
	}
	w.stringifier = u.MustClass("MyStringifier", nil)

	st, obj, str := w.stringifier, w.obj, w.str
	declare(st, "stringify", str, func(_ any, a []any) (any, error) {
		p := a[0].(*typemodel.Instance)
		return fmt.Sprintf("Person{name=%v,arg=%v}", p.Field("name"), p.Field("age")), nil
	}, w.person)
	declare(st, "stringify", str, func(_ any, a []any) (any, error) {
		return a[0], nil
	}, str)
	declare(st, "stringify", str, func(_ any, a []any) (any, error) {
		return show(a[0]), nil
	}, obj)
	declare(st, "stringify", str, func(_ any, a []any) (any, error) {
		return fmt.Sprintf("Object[%s] & Object[%s] & Object[%s]", show(a[0]), show(a[1]), show(a[2])), nil
	}, obj, obj, obj)
	declare(st, "stringify", str, func(_ any, a []any) (any, error) {
		return fmt.Sprintf("Object[%s] & Object[%s] & Entity[%s]", show(a[0]), show(a[1]), show(a[2])), nil
	}, obj, obj, w.entity)
	declare(st, "stringify", str, func(_ any, a []any) (any, error) {
		return fmt.Sprintf("Person[%s] & Object[%s] & Entity[%s]", show(a[0]), show(a[1]), show(a[2])), nil
	}, w.person, obj, w.entity)

	w.mary = typemodel.New(w.personImpl, map[string]any{"name": "Mary", "age": 30})
	w.en = typemodel.New(w.entityImpl, map[string]any{"id": "en"})
	w.s = typemodel.New(st, nil)
	return w
}

// argTypes mirrors what a dynamic call site computes: runtime types with nil
// for nil arguments.
func (w *world) argTypes(args ...any) []*typemodel.Type {
	out := make([]*typemodel.Type, len(args))
	for i, a := range args {
		out[i] = w.u.TypeOf(a)
	}
	return out
}

func (w *world) objects(n int) []*typemodel.Type {
	out := make([]*typemodel.Type, n)
	for i := range out {
		out[i] = w.obj
	}
	return out
}

type recordingObserver struct {
	events []Event
}

func (o *recordingObserver) Resolved(ev Event) { o.events = append(o.events, ev) }
