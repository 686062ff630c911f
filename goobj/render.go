package goobj

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path"
	"strconv"
	"strings"

	"github.com/ZenLiuCN/incremental/backend"
	"github.com/ZenLiuCN/incremental/unit"
	"golang.org/x/mod/module"
	"golang.org/x/tools/imports"
)

// SplitName split a qualified symbol name into package path and local name.
// Dots inside the last path element separate the name, so methods keep their receiver.
func SplitName(name string) (pkg, local string) {
	slash := strings.LastIndexByte(name, '/')
	dot := strings.IndexByte(name[slash+1:], '.')
	if dot < 0 {
		return "", name
	}
	dot += slash + 1
	return name[:dot], name[dot+1:]
}

// PackageName of the package clause for an import path.
func PackageName(pkg string) string {
	if pkg == "" {
		return unit.DefaultPackage
	}
	return strings.NewReplacer("-", "_", ".", "_").Replace(path.Base(pkg))
}

func importSpec(s string) string {
	s = strings.TrimSpace(s)
	if strings.IndexByte(s, '"') >= 0 {
		return s
	}
	if i := strings.IndexByte(s, ' '); i > 0 {
		return s[:i] + " " + strconv.Quote(strings.TrimSpace(s[i+1:]))
	}
	return strconv.Quote(s)
}

const (
	// ShimPrefix starts the local name of the entry shim of a function.
	ShimPrefix   = "_entry_"
	shimUnsafe   = "_entry_unsafe"
	shimParam    = "c interface {\n\tAtExit(func(" + shimUnsafe + ".Pointer), " + shimUnsafe + ".Pointer)\n\tReturn(any)\n}"
	shimNoResult = "func %s(%s) {\n\t%s(%s)\n}\n"
	shimResult   = "func %s(%s) {\n\tc.Return(%s(%s))\n}\n"
)

type shim struct {
	local  string //function called
	arg    bool   //passes the caller
	result bool   //returns one value
}

// Shims of the functions of u callable as entry points, keyed by qualified function name.
//
// A function is an entry point when it has no receiver nor type parameters, at most one result,
// and either no parameter or a single interface parameter receiving the caller: an interface
// with the methods AtExit(func(unsafe.Pointer), unsafe.Pointer) and Return(any), or a subset.
func Shims(u *unit.Unit) map[string]string {
	m := make(map[string]string)
	for name := range shims(u) {
		_, local := SplitName(name)
		m[name] = ShimPrefix + local
	}
	return m
}

func shims(u *unit.Unit) map[string]shim {
	m := make(map[string]shim)
	for _, d := range u.Decls() {
		if d.Kind != unit.Func || d.Source == "" {
			continue
		}
		if s, ok := entryShape(d.Source); ok {
			m[d.Name] = s
		}
	}
	return m
}

func entryShape(src string) (s shim, ok bool) {
	f, err := parser.ParseFile(token.NewFileSet(), "", "package p\n"+src, parser.SkipObjectResolution)
	if err != nil || len(f.Decls) != 1 {
		return
	}
	fd, is := f.Decls[0].(*ast.FuncDecl)
	if !is || fd.Recv != nil || fd.Body == nil || fd.Type.TypeParams != nil || fd.Name.Name == "init" || fd.Name.Name == "main" {
		return
	}
	if r := fd.Type.Results; r != nil && r.NumFields() > 1 {
		return
	}
	s = shim{local: fd.Name.Name, result: fd.Type.Results.NumFields() == 1}
	switch fd.Type.Params.NumFields() {
	case 0:
	case 1:
		if _, is = fd.Type.Params.List[0].Type.(*ast.InterfaceType); !is {
			return
		}
		s.arg = true
	default:
		return
	}
	return s, true
}

func (s shim) source() string {
	arg := ""
	if s.arg {
		arg = "c"
	}
	format := shimNoResult
	if s.result {
		format = shimResult
	}
	return fmt.Sprintf(format, ShimPrefix+s.local, shimParam, s.local, arg)
}

// Render the go source of u. Extern declarations with a body-less source of another package
// are bound with go:linkname, entry point functions get a shim.
func Render(u *unit.Unit) []byte {
	var b bytes.Buffer
	decls := u.Decls()
	specs := u.Imports()
	entries := shims(u)
	linked := false
	for _, d := range decls {
		if p, _ := SplitName(d.Name); d.Kind == unit.Extern && d.Source != "" && p != u.Package() {
			linked = true
			break
		}
	}
	if linked {
		specs = append(specs, `_ "unsafe"`)
	}
	if len(entries) > 0 {
		specs = append(specs, shimUnsafe+` "unsafe"`)
	}
	fmt.Fprintf(&b, "package %s\n", PackageName(u.Package()))
	if len(specs) > 0 {
		b.WriteString("\nimport (\n")
		for _, s := range specs {
			fmt.Fprintf(&b, "\t%s\n", importSpec(s))
		}
		b.WriteString(")\n")
	}
	for _, d := range decls {
		if d.Source == "" {
			continue
		}
		b.WriteByte('\n')
		if p, local := SplitName(d.Name); d.Kind == unit.Extern && p != u.Package() {
			fmt.Fprintf(&b, "//go:linkname %s %s\n", localName(local), d.Name)
		}
		b.WriteString(strings.TrimSpace(d.Source))
		b.WriteByte('\n')
		if s, ok := entries[d.Name]; ok {
			b.WriteByte('\n')
			b.WriteString(s.source())
		}
	}
	return b.Bytes()
}

// localName of an extern as declared in the unit: the last element, so a method symbol can't
// be bound this way.
func localName(local string) string {
	if i := strings.LastIndexByte(local, '.'); i >= 0 {
		return local[i+1:]
	}
	return local
}

// Format render u then run the cleanup passes: import fixing and gofmt.
func Format(u *unit.Unit) ([]byte, error) {
	if err := backend.CheckLevel(u.OptLevel()); err != nil {
		return nil, err
	}
	if u.Package() != unit.DefaultPackage {
		if err := module.CheckImportPath(u.Package()); err != nil {
			return nil, backend.Malformed(u, "%s", err)
		}
	}
	src, err := imports.Process(fmt.Sprintf("unit%d.go", u.Gen()), Render(u), &imports.Options{
		Comments:  true,
		TabIndent: true,
		TabWidth:  8,
	})
	if err != nil {
		return nil, backend.Malformed(u, "%s", err)
	}
	return src, nil
}
