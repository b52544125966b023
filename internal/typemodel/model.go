package typemodel

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// SchemaConstraint is the range of model schema versions this package reads.
const SchemaConstraint = "^1.0"

// CurrentSchema is written by WriteModel.
const CurrentSchema = "1.0"

// ModelFile is the on-disk description of a type universe.
type ModelFile struct {
	Schema string     `yaml:"schema"`
	Types  []TypeSpec `yaml:"types"`
}

// TypeSpec describes one type in a model file.
type TypeSpec struct {
	Name       string       `yaml:"name"`
	Kind       string       `yaml:"kind,omitempty"`
	Super      string       `yaml:"super,omitempty"`
	Interfaces []string     `yaml:"interfaces,omitempty"`
	Enclosing  string       `yaml:"enclosing,omitempty"`
	Strategy   string       `yaml:"strategy,omitempty"`
	Methods    []MethodSpec `yaml:"methods,omitempty"`
}

// MethodSpec describes one method in a model file. Result, when set, is the
// value the method body returns; "{recv}" and "{N}" expand to the receiver
// and the N-th argument.
type MethodSpec struct {
	Name         string   `yaml:"name"`
	Params       []string `yaml:"params,omitempty"`
	Returns      string   `yaml:"returns,omitempty"`
	Static       bool     `yaml:"static,omitempty"`
	Private      bool     `yaml:"private,omitempty"`
	Strategy     string   `yaml:"strategy,omitempty"`
	StaticInvoke bool     `yaml:"static_invoke,omitempty"`
	Dynamic      bool     `yaml:"dynamic,omitempty"`
	Result       string   `yaml:"result,omitempty"`
}

// LoadModel reads a model file into a fresh universe.
func LoadModel(path string) (*Universe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model: %w", err)
	}
	u, err := ParseModel(data)
	if err != nil {
		return nil, fmt.Errorf("loading model %s: %w", path, err)
	}
	return u, nil
}

// ParseModel decodes model YAML into a fresh universe.
func ParseModel(data []byte) (*Universe, error) {
	var mf ModelFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parsing model: %w", err)
	}
	u := NewUniverse()
	if err := mf.Apply(u); err != nil {
		return nil, err
	}
	return u, nil
}

// CheckSchema verifies that version falls within SchemaConstraint.
func CheckSchema(version string) error {
	if version == "" {
		return errors.New("model schema version is required")
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid schema version %q: %w", version, err)
	}
	c, err := semver.NewConstraint(SchemaConstraint)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("unsupported schema version %s (want %s)", v, SchemaConstraint)
	}
	return nil
}

// Apply defines the model's types and methods in u. Types may reference each
// other in any order.
func (mf *ModelFile) Apply(u *Universe) error {
	if err := CheckSchema(mf.Schema); err != nil {
		return err
	}

	pending := make([]TypeSpec, 0, len(mf.Types))
	for i, ts := range mf.Types {
		if ts.Name == "" {
			return fmt.Errorf("types[%d]: name is required", i)
		}
		pending = append(pending, ts)
	}

	// Define types once their supertypes exist.
	for len(pending) > 0 {
		var deferred []TypeSpec
		for _, ts := range pending {
			ready, err := defineSpec(u, ts)
			if err != nil {
				return err
			}
			if !ready {
				deferred = append(deferred, ts)
			}
		}
		if len(deferred) == len(pending) {
			names := make([]string, len(deferred))
			for i, ts := range deferred {
				names[i] = ts.Name
			}
			return fmt.Errorf("unresolved supertypes or cycle among: %s", strings.Join(names, ", "))
		}
		pending = deferred
	}

	for _, ts := range mf.Types {
		t := u.MustLookup(ts.Name)
		t.Strategy = ts.Strategy
		if ts.Enclosing != "" {
			outer, ok := u.Lookup(ts.Enclosing)
			if !ok {
				return fmt.Errorf("type %s: unknown enclosing type %s", ts.Name, ts.Enclosing)
			}
			if err := t.SetEnclosing(outer); err != nil {
				return err
			}
		}
		for j, ms := range ts.Methods {
			m, err := methodFromSpec(u, ms)
			if err != nil {
				return fmt.Errorf("type %s: methods[%d]: %w", ts.Name, j, err)
			}
			if err := t.Declare(m); err != nil {
				return err
			}
		}
	}
	return nil
}

func defineSpec(u *Universe, ts TypeSpec) (bool, error) {
	var super *Type
	if ts.Super != "" {
		s, ok := u.Lookup(ts.Super)
		if !ok {
			return false, nil
		}
		super = s
	}
	ifaces := make([]*Type, 0, len(ts.Interfaces))
	for _, name := range ts.Interfaces {
		it, ok := u.Lookup(name)
		if !ok {
			return false, nil
		}
		ifaces = append(ifaces, it)
	}

	var err error
	switch Kind(ts.Kind) {
	case KindClass, "":
		_, err = u.Class(ts.Name, super, ifaces...)
	case KindInterface:
		if super != nil {
			return false, fmt.Errorf("interface %s cannot have a superclass", ts.Name)
		}
		_, err = u.Interface(ts.Name, ifaces...)
	default:
		return false, fmt.Errorf("type %s: unknown kind %q", ts.Name, ts.Kind)
	}
	return err == nil, err
}

func methodFromSpec(u *Universe, ms MethodSpec) (*Method, error) {
	if ms.Name == "" {
		return nil, errors.New("name is required")
	}
	params := make([]*Type, 0, len(ms.Params))
	for _, name := range ms.Params {
		p, ok := u.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%s: unknown parameter type %s", ms.Name, name)
		}
		params = append(params, p)
	}
	ret := u.Void()
	if ms.Returns != "" {
		r, ok := u.Lookup(ms.Returns)
		if !ok {
			return nil, fmt.Errorf("%s: unknown return type %s", ms.Name, ms.Returns)
		}
		ret = r
	}
	m := &Method{
		Name:    ms.Name,
		Sig:     NewSignature(ret, params...),
		Static:  ms.Static,
		Private: ms.Private,
		Annotations: Annotations{
			Strategy: ms.Strategy,
			Static:   ms.StaticInvoke,
			Dynamic:  ms.Dynamic,
		},
	}
	if ms.Result != "" {
		m.Func = templateFunc(ms.Result)
	}
	return m, nil
}

func templateFunc(result string) Func {
	return func(recv any, args []any) (any, error) {
		pairs := []string{"{recv}", fmt.Sprint(recv)}
		for i, a := range args {
			pairs = append(pairs, "{"+strconv.Itoa(i)+"}", fmt.Sprint(a))
		}
		return strings.NewReplacer(pairs...).Replace(result), nil
	}
}

// Describe converts u into a model file, skipping builtin types.
func Describe(u *Universe) *ModelFile {
	mf := &ModelFile{Schema: CurrentSchema}
	for _, t := range u.Types() {
		if IsBuiltin(t) {
			continue
		}
		ts := TypeSpec{Name: t.name, Kind: string(t.kind), Strategy: t.Strategy}
		if t.super != nil && t.super != u.root {
			ts.Super = t.super.name
		}
		for _, it := range t.interfaces {
			ts.Interfaces = append(ts.Interfaces, it.name)
		}
		if t.enclosing != nil {
			ts.Enclosing = t.enclosing.name
		}
		for _, m := range t.order {
			ms := MethodSpec{
				Name:         m.Name,
				Static:       m.Static,
				Private:      m.Private,
				Strategy:     m.Annotations.Strategy,
				StaticInvoke: m.Annotations.Static,
				Dynamic:      m.Annotations.Dynamic,
			}
			for _, p := range m.Sig.params {
				ms.Params = append(ms.Params, p.name)
			}
			if m.Sig.ret != nil && m.Sig.ret != u.void {
				ms.Returns = m.Sig.ret.name
			}
			ts.Methods = append(ts.Methods, ms)
		}
		mf.Types = append(mf.Types, ts)
	}
	return mf
}

// WriteModel writes u as model YAML to path.
func WriteModel(u *Universe, path string) error {
	data, err := yaml.Marshal(Describe(u))
	if err != nil {
		return fmt.Errorf("marshaling model: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing model: %w", err)
	}
	return nil
}
