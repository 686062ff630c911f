package goobj

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"strings"

	"github.com/ZenLiuCN/incremental/unit"
)

// Fragment is a parsed source fragment, ready to become a unit.
type Fragment struct {
	Package string
	Imports []string
	Decls   []unit.Decl
}

// ParseFragment split go source into top-level declarations. The package clause is optional,
// an empty pkg takes the clause name or main. Functions without body become Extern declarations, types and
// constants become Type declarations.
func ParseFragment(pkg string, src []byte) (*Fragment, error) {
	fs := token.NewFileSet()
	text := src
	if !hasPackageClause(fs, src) {
		text = append([]byte(fmt.Sprintf("package %s\n", PackageName(pkg))), src...)
	}
	f, err := parser.ParseFile(fs, "fragment.go", text, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}
	if pkg == "" {
		pkg = f.Name.Name
	}
	fr := &Fragment{Package: pkg}
	for _, s := range f.Imports {
		if s.Name != nil {
			fr.Imports = append(fr.Imports, s.Name.Name+" "+s.Path.Value)
		} else {
			fr.Imports = append(fr.Imports, s.Path.Value)
		}
	}
	for _, d := range f.Decls {
		switch x := d.(type) {
		case *ast.FuncDecl:
			k := unit.Func
			if x.Body == nil {
				k = unit.Extern
			}
			fr.Decls = append(fr.Decls, unit.Decl{Name: funcName(pkg, x), Kind: k, Source: source(fs, x)})
		case *ast.GenDecl:
			switch x.Tok {
			case token.IMPORT:
			case token.VAR:
				fr.Decls = append(fr.Decls, specDecls(fs, x, unit.Global)...)
			default:
				fr.Decls = append(fr.Decls, specDecls(fs, x, unit.Type)...)
			}
		}
	}
	return fr, nil
}

// Unit of the fragment with the given generation, optimization level and initializer.
func (f *Fragment) Unit(gen unit.Generation, optLevel int, init string) *unit.Unit {
	return unit.New(gen, f.Package, optLevel, init, f.Imports, f.Decls...)
}

// Names of the declarations defining symbols, in source order.
func (f *Fragment) Names() (v []string) {
	for _, d := range f.Decls {
		if d.Kind == unit.Func || d.Kind == unit.Global {
			v = append(v, d.Name)
		}
	}
	return
}

func hasPackageClause(fs *token.FileSet, src []byte) bool {
	_, err := parser.ParseFile(fs, "", src, parser.PackageClauseOnly)
	return err == nil
}

// funcName of a function, methods are qualified with pkg since their name already has a dot.
func funcName(pkg string, f *ast.FuncDecl) string {
	if f.Recv == nil || len(f.Recv.List) == 0 {
		return f.Name.Name
	}
	t := f.Recv.List[0].Type
	ptr := false
	if s, ok := t.(*ast.StarExpr); ok {
		ptr = true
		t = s.X
	}
	switch x := t.(type) {
	case *ast.IndexExpr:
		t = x.X
	case *ast.IndexListExpr:
		t = x.X
	}
	recv := fmt.Sprint(t)
	if id, ok := t.(*ast.Ident); ok {
		recv = id.Name
	}
	if ptr {
		recv = "(*" + recv + ")"
	}
	return pkg + "." + recv + "." + f.Name.Name
}

// specDecls one declaration per declared name, the source goes with the first one.
func specDecls(fs *token.FileSet, g *ast.GenDecl, k unit.Kind) (v []unit.Decl) {
	src := source(fs, g)
	for _, s := range g.Specs {
		var names []*ast.Ident
		switch x := s.(type) {
		case *ast.ValueSpec:
			names = x.Names
		case *ast.TypeSpec:
			names = []*ast.Ident{x.Name}
		}
		for _, n := range names {
			if n.Name == "_" {
				continue
			}
			v = append(v, unit.Decl{Name: n.Name, Kind: k})
		}
	}
	if len(v) == 0 {
		return []unit.Decl{{Kind: unit.Type, Source: src}}
	}
	v[0].Source = src
	return
}

func source(fs *token.FileSet, n ast.Node) string {
	var b bytes.Buffer
	if err := printer.Fprint(&b, fs, n); err != nil {
		return ""
	}
	return strings.TrimSpace(b.String())
}
