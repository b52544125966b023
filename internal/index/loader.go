package index

import (
	"errors"
	"fmt"
	"go/token"
	"go/types"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/abramin/dynlink/internal/config"
	"github.com/abramin/dynlink/internal/typemodel"
	"golang.org/x/tools/go/packages"
)

// LoadMode defines the packages.Load mode required for importing types.
const LoadMode = packages.NeedName |
	packages.NeedFiles |
	packages.NeedSyntax |
	packages.NeedTypes |
	packages.NeedTypesInfo |
	packages.NeedModule

// Loader loads Go packages and translates their named types into model
// type specs.
type Loader struct {
	cfg        *config.Config
	projectDir string
	logger     *slog.Logger
	fset       *token.FileSet
	pkgs       []*packages.Package
}

// NewLoader creates a loader rooted at projectDir.
func NewLoader(cfg *config.Config, projectDir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{
		cfg:        cfg,
		projectDir: projectDir,
		logger:     logger,
		fset:       token.NewFileSet(),
	}
}

// Load loads the packages matching patterns, "./..." when none are given.
// Packages with type errors are kept; their errors are logged.
func (l *Loader) Load(patterns ...string) error {
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}
	cfg := &packages.Config{
		Mode: LoadMode,
		Dir:  l.projectDir,
		Fset: l.fset,
	}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return fmt.Errorf("loading packages: %w", err)
	}

	var filtered []*packages.Package
	for _, pkg := range pkgs {
		if l.shouldExcludePackage(pkg) {
			l.logger.Debug("package excluded", "package", pkg.PkgPath)
			continue
		}
		filtered = append(filtered, pkg)
	}
	l.pkgs = filtered

	packages.Visit(l.pkgs, nil, func(pkg *packages.Package) {
		for _, err := range pkg.Errors {
			l.logger.Warn("package error", "package", pkg.PkgPath, "error", err.Msg)
		}
	})
	if len(l.pkgs) == 0 {
		return errors.New("no packages loaded")
	}
	return nil
}

// Packages returns the loaded packages.
func (l *Loader) Packages() []*packages.Package {
	return l.pkgs
}

func (l *Loader) shouldExcludePackage(pkg *packages.Package) bool {
	if pkg.Types == nil {
		return true
	}
	if len(pkg.GoFiles) == 0 {
		return false
	}
	dir := filepath.Dir(pkg.GoFiles[0])
	rel, err := filepath.Rel(l.projectDir, dir)
	if err != nil {
		return l.cfg.IsExcludedDir(dir)
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part != "." && l.cfg.IsExcludedDir(part) {
			return true
		}
	}
	return false
}

func (l *Loader) excludedFile(path string) bool {
	if rel, err := filepath.Rel(l.projectDir, path); err == nil {
		path = filepath.ToSlash(rel)
	}
	return l.cfg.IsExcludedFile(path) || l.cfg.IsExcludedFile(filepath.Base(path))
}

// named is one imported declaration.
type named struct {
	name string
	typ  *types.Named
}

// Model translates the loaded packages into a model file. Type names are
// qualified by package name, e.g. "shapes.Circle".
func (l *Loader) Model() (*typemodel.ModelFile, error) {
	if l.pkgs == nil {
		return nil, errors.New("packages not loaded")
	}

	var decls []named
	byType := make(map[*types.TypeName]string)
	taken := make(map[string]string)
	for _, pkg := range l.pkgs {
		scope := pkg.Types.Scope()
		for _, name := range scope.Names() {
			obj, ok := scope.Lookup(name).(*types.TypeName)
			if !ok || obj.IsAlias() {
				continue
			}
			nt, ok := obj.Type().(*types.Named)
			if !ok || nt.TypeParams().Len() > 0 {
				continue
			}
			if l.excludedFile(l.fset.Position(obj.Pos()).Filename) {
				continue
			}
			qualified := pkg.Name + "." + obj.Name()
			if prev, dup := taken[qualified]; dup {
				l.logger.Warn("type name collision", "name", qualified, "kept", prev, "skipped", pkg.PkgPath)
				continue
			}
			taken[qualified] = pkg.PkgPath
			byType[obj] = qualified
			decls = append(decls, named{name: qualified, typ: nt})
		}
	}

	m := &mapper{names: byType}
	var ifaces []named
	for _, d := range decls {
		if _, ok := d.typ.Underlying().(*types.Interface); ok {
			ifaces = append(ifaces, d)
		}
	}

	mf := &typemodel.ModelFile{Schema: typemodel.CurrentSchema}
	for _, d := range decls {
		if it, ok := d.typ.Underlying().(*types.Interface); ok {
			mf.Types = append(mf.Types, m.interfaceSpec(d, it))
			continue
		}
		mf.Types = append(mf.Types, m.classSpec(d, ifaces))
	}
	sort.Slice(mf.Types, func(i, j int) bool { return mf.Types[i].Name < mf.Types[j].Name })
	return mf, nil
}

// Import loads the model produced by Model into u.
func (l *Loader) Import(u *typemodel.Universe) (*typemodel.ModelFile, error) {
	mf, err := l.Model()
	if err != nil {
		return nil, err
	}
	if err := mf.Apply(u); err != nil {
		return nil, fmt.Errorf("importing types: %w", err)
	}
	return mf, nil
}

// mapper maps go/types types onto universe type names.
type mapper struct {
	names map[*types.TypeName]string
}

func (m *mapper) interfaceSpec(d named, it *types.Interface) typemodel.TypeSpec {
	ts := typemodel.TypeSpec{Name: d.name, Kind: string(typemodel.KindInterface)}
	for i := 0; i < it.NumEmbeddeds(); i++ {
		if name := m.nameOf(it.EmbeddedType(i)); name != "" {
			ts.Interfaces = append(ts.Interfaces, name)
		}
	}
	for i := 0; i < it.NumExplicitMethods(); i++ {
		fn := it.ExplicitMethod(i)
		ms := m.methodSpec(fn)
		ms.Params = append([]string{d.name}, ms.Params...)
		ts.Methods = append(ts.Methods, ms)
	}
	return ts
}

func (m *mapper) classSpec(d named, ifaces []named) typemodel.TypeSpec {
	ts := typemodel.TypeSpec{Name: d.name, Kind: string(typemodel.KindClass)}
	if st, ok := d.typ.Underlying().(*types.Struct); ok {
		for i := 0; i < st.NumFields(); i++ {
			f := st.Field(i)
			if !f.Embedded() {
				continue
			}
			if _, isPtr := f.Type().(*types.Pointer); isPtr {
				continue
			}
			if name := m.nameOf(f.Type()); name != "" && !isInterfaceType(f.Type()) {
				ts.Super = name
				break
			}
		}
	}
	ptr := types.NewPointer(d.typ)
	for _, it := range ifaces {
		iface := it.typ.Underlying().(*types.Interface)
		if iface.Empty() {
			continue
		}
		if types.Implements(ptr, iface) {
			ts.Interfaces = append(ts.Interfaces, it.name)
		}
	}
	for i := 0; i < d.typ.NumMethods(); i++ {
		ts.Methods = append(ts.Methods, m.methodSpec(d.typ.Method(i)))
	}
	return ts
}

func (m *mapper) methodSpec(fn *types.Func) typemodel.MethodSpec {
	sig := fn.Type().(*types.Signature)
	ms := typemodel.MethodSpec{Name: fn.Name(), Private: !fn.Exported()}
	for i := 0; i < sig.Params().Len(); i++ {
		ms.Params = append(ms.Params, m.typeName(sig.Params().At(i).Type()))
	}
	ms.Returns = m.result(sig.Results())
	return ms
}

// result picks the first non-error result; none maps to void.
func (m *mapper) result(results *types.Tuple) string {
	for i := 0; i < results.Len(); i++ {
		t := results.At(i).Type()
		if isError(t) {
			continue
		}
		return m.typeName(t)
	}
	return ""
}

// typeName maps a Go type to a universe name. Builtins map by kind, loaded
// named types by name, and anything else to the root.
func (m *mapper) typeName(t types.Type) string {
	if name := m.nameOf(t); name != "" {
		return name
	}
	if b, ok := t.Underlying().(*types.Basic); ok {
		info := b.Info()
		switch {
		case info&types.IsString != 0:
			return "String"
		case info&types.IsBoolean != 0:
			return "Bool"
		case info&types.IsInteger != 0:
			return "Int"
		case info&types.IsFloat != 0:
			return "Float"
		}
	}
	return "Object"
}

// nameOf returns the universe name of t or *t when it is a loaded named type.
func (m *mapper) nameOf(t types.Type) string {
	if p, ok := t.(*types.Pointer); ok {
		t = p.Elem()
	}
	nt, ok := t.(*types.Named)
	if !ok {
		return ""
	}
	return m.names[nt.Obj()]
}

func isInterfaceType(t types.Type) bool {
	_, ok := t.Underlying().(*types.Interface)
	return ok
}

func isError(t types.Type) bool {
	return types.Identical(t, types.Universe.Lookup("error").Type())
}
