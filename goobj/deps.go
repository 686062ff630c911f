package goobj

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkujhd/goloader"
	"github.com/pkujhd/goloader/obj"
	"golang.org/x/mod/module"
	"golang.org/x/mod/semver"
)

type (
	// Dependency is a package imported by compiled code, Version is set for module packages.
	Dependency struct {
		Path    string
		Version string
	}
	// Deps of one compiled package.
	Deps struct {
		File     string
		Package  string
		Packages []Dependency //sorted by path
	}
	// DepsList is printable.
	DepsList []Deps
)

func (d Dependency) String() string {
	if d.Version == "" {
		return d.Path
	}
	return d.Path + "@" + d.Version
}

func (d Deps) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", d.File, d.Package)
	for _, p := range d.Packages {
		fmt.Fprintf(&b, "\t%s\n", p)
	}
	return b.String()
}

func (l DepsList) String() string {
	var b strings.Builder
	for _, d := range l {
		b.WriteString(d.String())
	}
	return b.String()
}

// ObjectDeps read the imported packages of an object file compiled as pkg, main when empty.
func ObjectDeps(file, pkg string) (d Deps, err error) {
	if pkg == "" {
		pkg = "main"
	}
	v := &obj.Pkg{Syms: make(map[string]*obj.ObjSymbol), File: file, PkgPath: pkg}
	if err = v.Symbols(); err != nil {
		return d, fmt.Errorf("read %s: %w", file, err)
	}
	return depsOf(v), nil
}

// LinkerDeps of every package held by a linker.
func LinkerDeps(l *goloader.Linker) (v DepsList) {
	for _, p := range l.Packages {
		v = append(v, depsOf(p))
	}
	return
}

// ReadLinker decode a linker written by a backend saving with SaveTo.
func ReadLinker(file string) (*goloader.Linker, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return goloader.UnSerialize(f)
}

func writeLinker(l *goloader.Linker, w io.Writer) error {
	return goloader.Serialize(l, w)
}

func depsOf(p *obj.Pkg) Deps {
	d := Deps{File: p.File, Package: p.PkgPath}
	for _, imp := range p.ImportPkgs {
		d.Packages = append(d.Packages, Dependency{Path: imp, Version: moduleVersion(imp, p.CUFiles)})
	}
	slices.SortFunc(d.Packages, func(a, b Dependency) int { return strings.Compare(a.Path, b.Path) })
	d.Packages = slices.CompactFunc(d.Packages, func(a, b Dependency) bool { return a.Path == b.Path })
	return d
}

// moduleVersion of the package path, taken from the module cache paths of compiled files.
// Files outside GOPATH/pkg/mod carry no version.
func moduleVersion(path string, files []string) string {
	const cache = "/pkg/mod/"
	for _, f := range files {
		f = filepath.ToSlash(strings.TrimPrefix(f, "gofile.."))
		i := strings.Index(f, cache)
		if i < 0 {
			continue
		}
		rest := f[i+len(cache):]
		at := strings.IndexByte(rest, '@')
		if at < 0 {
			continue
		}
		mod, err := module.UnescapePath(rest[:at])
		if err != nil || (path != mod && !strings.HasPrefix(path, mod+"/")) {
			continue
		}
		ver := rest[at+1:]
		if j := strings.IndexByte(ver, '/'); j >= 0 {
			ver = ver[:j]
		}
		if v, err := module.UnescapeVersion(ver); err == nil && semver.IsValid(v) {
			return v
		}
	}
	return ""
}
