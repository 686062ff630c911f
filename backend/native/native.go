// Package native is a backend whose code is already compiled into the host executable.
//
// A Catalog maps symbol names to the addresses of top-level Go functions and package variables.
// Emitting a unit picks the catalog entries named by its declarations; linking writes the
// resolved address of every external into the relocation slots the entries declared.
// Closures can't be cataloged: only the code pointer of a function is kept.
//
// Functions shaped func(*Call), the pointer naming a struct type called Call, are the entry points
// of a unit. Any other function is only reachable through relocations.
package native

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/ZenLiuCN/incremental/backend"
	"github.com/ZenLiuCN/incremental/symbol"
	"github.com/ZenLiuCN/incremental/unit"
)

type (
	// Reloc is a slot patched with the address of Name at link time.
	Reloc struct {
		Name string
		Slot *symbol.Addr
	}
	// Def is precompiled code or data.
	Def struct {
		Addr   symbol.Addr
		Relocs []Reloc
		Entry  bool
	}
	Catalog struct {
		mu   sync.RWMutex
		defs map[string]Def
	}
	object struct {
		gen  unit.Generation
		defs map[string]Def
		refs []string
	}
	image struct {
		mu       sync.RWMutex
		syms     map[string]symbol.Addr
		slots    []*symbol.Addr
		unloaded bool
	}
)

func NewCatalog() *Catalog {
	return &Catalog{defs: make(map[string]Def)}
}

// FuncAddr code address of a top-level function.
func FuncAddr(f any) symbol.Addr {
	v := reflect.ValueOf(f)
	if v.Kind() != reflect.Func || v.IsNil() {
		panic(fmt.Sprintf("native: %T is not a function", f))
	}
	return symbol.Addr(v.Pointer())
}

// VarAddr storage address of a variable given by pointer.
func VarAddr(p any) symbol.Addr {
	v := reflect.ValueOf(p)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		panic(fmt.Sprintf("native: %T is not a pointer", p))
	}
	return symbol.Addr(v.Pointer())
}

// IsEntry reports whether f is shaped func(*Call).
func IsEntry(f any) bool {
	t := reflect.TypeOf(f)
	if t == nil || t.Kind() != reflect.Func || t.NumIn() != 1 || t.NumOut() != 0 || t.IsVariadic() {
		return false
	}
	in := t.In(0)
	return in.Kind() == reflect.Pointer && in.Elem().Kind() == reflect.Struct && in.Elem().Name() == "Call"
}

// Define name at addr with optional relocations, data or plain code. Redefinition replaces the entry.
func (c *Catalog) Define(name string, addr symbol.Addr, relocs ...Reloc) {
	c.define(name, Def{Addr: addr, Relocs: slices.Clone(relocs)})
}

func (c *Catalog) define(name string, d Def) {
	c.mu.Lock()
	c.defs[name] = d
	c.mu.Unlock()
}

// DefineFunc catalog a top-level function, an entry point when it is shaped func(*Call).
func (c *Catalog) DefineFunc(name string, f any, relocs ...Reloc) {
	c.define(name, Def{Addr: FuncAddr(f), Relocs: slices.Clone(relocs), Entry: IsEntry(f)})
}

// DefineVar catalog a package variable given by pointer.
func (c *Catalog) DefineVar(name string, p any) {
	c.Define(name, VarAddr(p))
}

func (c *Catalog) Emit(u *unit.Unit) (backend.Object, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o := &object{gen: u.Gen(), defs: make(map[string]Def)}
	seen := make(map[string]struct{})
	addRef := func(n string) {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			o.refs = append(o.refs, n)
		}
	}
	for _, d := range u.Decls() {
		switch d.Kind {
		case unit.Extern:
			addRef(d.Name)
			continue
		case unit.Type:
			continue
		}
		def, ok := c.defs[d.Name]
		if !ok {
			return nil, backend.Malformed(u, "no code for %s %s", d.Kind, d.Name)
		}
		if _, dup := o.defs[d.Name]; dup {
			return nil, backend.Malformed(u, "%s declared twice", d.Name)
		}
		o.defs[d.Name] = def
		for _, r := range d.Refs {
			addRef(r)
		}
		for _, r := range def.Relocs {
			addRef(r.Name)
		}
	}
	return o, nil
}

func (o *object) Defines() []string {
	return slices.Sorted(maps.Keys(o.defs))
}

func (o *object) Entry(name string) (backend.EntryPoint, bool) {
	d, ok := o.defs[name]
	if !ok || !d.Entry {
		return backend.EntryPoint{}, false
	}
	return backend.EntryPoint{Symbol: name, Convention: backend.Direct}, true
}

func (o *object) Link(r symbol.Resolver) (backend.Image, error) {
	resolved := make(map[string]symbol.Addr, len(o.refs))
	var missing []string
	for _, n := range o.refs {
		if _, ok := o.defs[n]; ok {
			continue
		}
		a, ok := r.TryResolve(n)
		if !ok {
			missing = append(missing, n)
			continue
		}
		resolved[n] = a
	}
	if len(missing) > 0 {
		return nil, &backend.LinkError{Unit: o.gen, Missing: missing}
	}
	img := &image{syms: make(map[string]symbol.Addr, len(o.defs))}
	for n, d := range o.defs {
		img.syms[n] = d.Addr
	}
	for _, d := range o.defs {
		for _, rl := range d.Relocs {
			if rl.Slot == nil {
				continue
			}
			if a, ok := img.syms[rl.Name]; ok {
				*rl.Slot = a
			} else {
				*rl.Slot = resolved[rl.Name]
			}
			img.slots = append(img.slots, rl.Slot)
		}
	}
	return img, nil
}

func (i *image) Lookup(name string) (symbol.Addr, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.unloaded {
		return 0, false
	}
	a, ok := i.syms[name]
	return a, ok
}

func (i *image) Symbols() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.unloaded {
		return nil
	}
	return slices.Sorted(maps.Keys(i.syms))
}

func (i *image) Unload() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.unloaded {
		return backend.ErrUnloaded
	}
	for _, s := range i.slots {
		*s = 0
	}
	i.unloaded = true
	i.syms = nil
	return nil
}
