// Package unit describes the compilation units submitted to an incremental executor.
//
// A Unit is produced by a front end, consumed once by the executor and identified by its
// Generation. Units are immutable once created.
package unit

import (
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
)

type (
	// Generation is the sequence number of a Unit, strictly increasing per Sequence.
	Generation uint64
	// Kind of declaration inside a unit.
	Kind uint8
	// Decl is one top-level declaration in lowered form.
	Decl struct {
		Name   string   //symbol name, qualified with the unit package if it has no '.'
		Kind   Kind     //Func, Global, Extern or Type
		Source string   //lowered source text, interpreted by the backend
		Refs   []string //raw names of external symbols referenced by this declaration
	}
	// Unit is an ordered group of declarations with an optimization level.
	Unit struct {
		gen      Generation
		pkg      string
		optLevel int
		imports  []string
		decls    []Decl
		init     string
	}
	// Sequence hands out generations. The zero value is ready to use, the first generation is 1.
	Sequence struct {
		n atomic.Uint64
	}
)

const (
	Func Kind = iota
	Global
	// Extern declares a symbol defined elsewhere, it contributes no definition.
	Extern
	// Type carries types and constants, it defines no symbol.
	Type
)

// DefaultPackage is used when a unit has no package.
const DefaultPackage = "main"

func (k Kind) String() string {
	switch k {
	case Func:
		return "func"
	case Global:
		return "global"
	case Extern:
		return "extern"
	case Type:
		return "type"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Next generation.
func (s *Sequence) Next() Generation {
	return Generation(s.n.Add(1))
}

// Last issued generation, zero if none.
func (s *Sequence) Last() Generation {
	return Generation(s.n.Load())
}

// New creates a unit. init is the optional name of the initializer entry point.
func New(gen Generation, pkg string, optLevel int, init string, imports []string, decls ...Decl) *Unit {
	if pkg == "" {
		pkg = DefaultPackage
	}
	u := &Unit{
		gen:      gen,
		pkg:      pkg,
		optLevel: optLevel,
		imports:  slices.Clone(imports),
		decls:    make([]Decl, len(decls)),
	}
	for i, d := range decls {
		d.Name = Qualify(pkg, d.Name)
		d.Refs = slices.Clone(d.Refs)
		u.decls[i] = d
	}
	if init != "" {
		u.init = Qualify(pkg, init)
	}
	return u
}

// Qualify prefix name with pkg when it carries no package qualifier.
func Qualify(pkg, name string) string {
	if name == "" || strings.IndexByte(name, '.') >= 0 {
		return name
	}
	if pkg == "" {
		pkg = DefaultPackage
	}
	return pkg + "." + name
}

func (u *Unit) Gen() Generation { return u.gen }
func (u *Unit) Package() string { return u.pkg }
func (u *Unit) OptLevel() int { return u.optLevel }

// Init entry point symbol, empty when the unit has no initializer.
func (u *Unit) Init() string { return u.init }

// Imports returns a copy of the unit imports.
func (u *Unit) Imports() []string { return slices.Clone(u.imports) }

// Decls returns a copy of the declarations in submission order.
func (u *Unit) Decls() []Decl {
	out := make([]Decl, len(u.decls))
	for i, d := range u.decls {
		d.Refs = slices.Clone(d.Refs)
		out[i] = d
	}
	return out
}

// Defines lists the symbols the unit defines, Extern and Type declarations excluded.
func (u *Unit) Defines() (v []string) {
	for _, d := range u.decls {
		if d.Kind == Func || d.Kind == Global {
			v = append(v, d.Name)
		}
	}
	return
}

// Refs lists every distinct external reference in declaration order.
func (u *Unit) Refs() (v []string) {
	seen := make(map[string]struct{})
	for _, d := range u.decls {
		for _, r := range d.Refs {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			v = append(v, r)
		}
		if d.Kind == Extern {
			if _, ok := seen[d.Name]; !ok {
				seen[d.Name] = struct{}{}
				v = append(v, d.Name)
			}
		}
	}
	return
}

func (u *Unit) String() string {
	return fmt.Sprintf("unit#%d(%s)", u.gen, u.pkg)
}
