// Package pool registers loaded units, one revocable Tracker per unit.
//
// A unit is linked lazily: its names become visible as soon as it is added, its object is linked
// the first time one of them is looked up. Removing a unit releases everything its tracker owns.
// The pool does not stop a unit from being removed while later units still use its symbols,
// unless it was created strict. Dependencies are only known once the depending unit is linked,
// so a strict pool also refuses removal while any other unit is being linked.
package pool

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ZenLiuCN/fn"
	"github.com/ZenLiuCN/incremental/backend"
	"github.com/ZenLiuCN/incremental/symbol"
	"github.com/ZenLiuCN/incremental/unit"
	"go.uber.org/zap"
)

type (
	// Tracker owns the object and image of one unit.
	Tracker struct {
		unit    *unit.Unit
		object  backend.Object
		names   []string
		kinds   map[string]unit.Kind
		entries backend.Entries
		mu      sync.Mutex
		image   backend.Image
		linking bool
		removed bool
		deps    map[unit.Generation]struct{}
	}
	Pool struct {
		Trackers map[unit.Generation]*Tracker
		Loaded   []*Tracker //in submission order
		index    map[string]*Tracker
		linker   symbol.Resolver
		strict   bool
		sync.RWMutex
	}
)

var (
	ErrAlreadyLoad     = errors.New("unit already loaded")
	ErrNotLoad         = errors.New("unit not loaded")
	ErrCorrupted       = errors.New("recording corrupted")
	ErrDuplicateSymbol = errors.New("symbol already defined by a loaded unit")
	ErrInUse           = errors.New("unit symbols used by later units")
	ErrLinking         = errors.New("unit is being linked")
	ErrNotEntry        = errors.New("symbol is not an entry point")
)

// NewPool create an empty pool. linker resolves externals of units when they are linked,
// strict refuses removal of units other live units depend on.
func NewPool(linker symbol.Resolver, strict bool) *Pool {
	return &Pool{
		Trackers: make(map[unit.Generation]*Tracker),
		index:    make(map[string]*Tracker),
		linker:   linker,
		strict:   strict,
	}
}

// SetLinker replace the resolver used for linking.
func (p *Pool) SetLinker(r symbol.Resolver) {
	p.Lock()
	p.linker = r
	p.Unlock()
}

// Add register the emitted object of u.
func (p *Pool) Add(u *unit.Unit, obj backend.Object) (t *Tracker, err error) {
	p.Lock()
	defer p.Unlock()
	if _, ok := p.Trackers[u.Gen()]; ok {
		return nil, ErrAlreadyLoad
	}
	names := obj.Defines()
	for _, n := range names {
		if x, ok := p.index[n]; ok {
			return nil, fmt.Errorf("%w: %s in %s", ErrDuplicateSymbol, n, x.unit)
		}
	}
	t = &Tracker{
		unit:   u,
		object: obj,
		names:  names,
		kinds:  make(map[string]unit.Kind),
		deps:   make(map[unit.Generation]struct{}),
	}
	for _, d := range u.Decls() {
		if d.Kind == unit.Func || d.Kind == unit.Global {
			t.kinds[d.Name] = d.Kind
		}
	}
	t.entries, _ = obj.(backend.Entries)
	p.Trackers[u.Gen()] = t
	p.Loaded = append(p.Loaded, t)
	p.register(t)
	Logger().Debug("unit added", zap.Stringer("unit", u), zap.Strings("symbols", names))
	return
}
func (p *Pool) register(t *Tracker) {
	for _, n := range t.names {
		p.index[n] = t
	}
}
func (p *Pool) unregister(t *Tracker) {
	for _, n := range t.names {
		if x, ok := p.index[n]; ok && x == t {
			delete(p.index, n)
		}
	}
}

// Tracker of gen, nil if not loaded.
func (p *Pool) Tracker(gen unit.Generation) *Tracker {
	p.RLock()
	defer p.RUnlock()
	return p.Trackers[gen]
}

// Owner of a symbol name, nil if no loaded unit defines it.
func (p *Pool) Owner(name string) *Tracker {
	p.RLock()
	defer p.RUnlock()
	return p.index[name]
}

// Has reports whether a loaded unit defines name, linked or not.
func (p *Pool) Has(name string) bool {
	return p.Owner(name) != nil
}

// TryResolve look up name, linking its unit first if needed.
func (p *Pool) TryResolve(name string) (symbol.Addr, bool) {
	return p.TryResolveWith(name, nil)
}

// TryResolveWith look up name like TryResolve, an unlinked unit is linked with linker instead of
// the pool resolver. A nil linker selects the pool resolver.
func (p *Pool) TryResolveWith(name string, linker symbol.Resolver) (symbol.Addr, bool) {
	t := p.Owner(name)
	if t == nil {
		return 0, false
	}
	img, err := p.materialize(t, linker)
	if err != nil {
		return 0, false
	}
	return img.Lookup(name)
}

// Entry resolve the entry point of the function name, linking its unit with linker if needed.
// Names that are not functions of a loaded unit fail with ErrNotEntry.
func (p *Pool) Entry(name string, linker symbol.Resolver) (symbol.Addr, backend.EntryPoint, *Tracker, error) {
	t := p.Owner(name)
	if t == nil {
		return 0, backend.EntryPoint{}, nil, fmt.Errorf("%w: %s", ErrNotLoad, name)
	}
	ep, ok := t.Entry(name)
	if !ok {
		return 0, ep, t, fmt.Errorf("%w: %s %s", ErrNotEntry, t.Kind(name), name)
	}
	img, err := p.materialize(t, linker)
	if err != nil {
		return 0, ep, t, err
	}
	a, ok := img.Lookup(ep.Symbol)
	if !ok {
		return 0, ep, t, fmt.Errorf("%w: %s has no code for %s", ErrNotEntry, t.unit, ep.Symbol)
	}
	return a, ep, t, nil
}

// Materialize link the unit of gen if it is not linked yet.
func (p *Pool) Materialize(gen unit.Generation) error {
	t := p.Tracker(gen)
	if t == nil {
		return ErrNotLoad
	}
	_, err := p.materialize(t, nil)
	return err
}

// materialize links t outside the pool lock, the linker may resolve back into this pool or a peer's.
// A link racing a removal unloads its image and reports ErrNotLoad.
func (p *Pool) materialize(t *Tracker, linker symbol.Resolver) (backend.Image, error) {
	t.mu.Lock()
	if t.image != nil {
		img := t.image
		t.mu.Unlock()
		return img, nil
	}
	if t.removed {
		t.mu.Unlock()
		return nil, ErrNotLoad
	}
	if t.linking {
		t.mu.Unlock()
		return nil, ErrLinking
	}
	t.linking = true
	t.mu.Unlock()
	if linker == nil {
		p.RLock()
		linker = p.linker
		p.RUnlock()
	}
	img, err := t.object.Link(p.recording(t, linker))
	t.mu.Lock()
	defer t.mu.Unlock()
	t.linking = false
	if err != nil {
		Logger().Debug("unit link failed", zap.Stringer("unit", t.unit), zap.Error(err))
		return nil, err
	}
	if t.removed {
		if e := img.Unload(); e != nil {
			Logger().Warn("unload of image linked after removal", zap.Stringer("unit", t.unit), zap.Error(e))
		}
		return nil, ErrNotLoad
	}
	t.image = img
	Logger().Debug("unit linked", zap.Stringer("unit", t.unit))
	return img, nil
}

// recording wraps r to remember which units t resolves symbols from. A name counts only when its
// address is the one of the owner's image, an injected override binds t to nobody.
func (p *Pool) recording(t *Tracker, r symbol.Resolver) symbol.Resolver {
	return symbol.ResolverFunc(func(name string) (symbol.Addr, bool) {
		if r == nil {
			return 0, false
		}
		a, ok := r.TryResolve(name)
		if !ok {
			return a, ok
		}
		o := p.Owner(name)
		if o == nil || o == t {
			return a, ok
		}
		if img := o.Image(); img != nil {
			if b, found := img.Lookup(name); found && b == a {
				t.mu.Lock()
				t.deps[o.unit.Gen()] = struct{}{}
				t.mu.Unlock()
			}
		}
		return a, ok
	})
}

// Dependents lists live units whose linked code resolved symbols from gen, in submission order.
func (p *Pool) Dependents(gen unit.Generation) (v []unit.Generation) {
	p.RLock()
	defer p.RUnlock()
	for _, t := range p.Loaded {
		t.mu.Lock()
		_, ok := t.deps[gen]
		t.mu.Unlock()
		if ok {
			v = append(v, t.unit.Gen())
		}
	}
	return
}

// Remove unload the unit of gen and drop its symbols. On failure the unit stays loaded.
func (p *Pool) Remove(gen unit.Generation) (err error) {
	p.Lock()
	defer p.Unlock()
	t, ok := p.Trackers[gen]
	if !ok {
		return ErrNotLoad
	}
	i := slices.Index(p.Loaded, t)
	if i < 0 {
		return ErrCorrupted
	}
	if p.strict {
		if x := p.linking(t); x != nil {
			return fmt.Errorf("%w: %s", ErrLinking, x.unit)
		}
	}
	if users := p.dependents(t); len(users) > 0 {
		if p.strict {
			return fmt.Errorf("%w: %s used by %v", ErrInUse, t.unit, users)
		}
		Logger().Warn("removing unit still used by later units",
			zap.Stringer("unit", t.unit), zap.Any("dependents", users))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.image != nil {
		if err = t.image.Unload(); err != nil {
			return fmt.Errorf("unload %s: %w", t.unit, err)
		}
		t.image = nil
	}
	t.removed = true
	p.unregister(t)
	delete(p.Trackers, gen)
	p.Loaded = slices.Delete(p.Loaded, i, i+1)
	Logger().Debug("unit removed", zap.Stringer("unit", t.unit))
	return
}

func (p *Pool) dependents(x *Tracker) (v []unit.Generation) {
	gen := x.unit.Gen()
	for _, t := range p.Loaded {
		if t == x {
			continue
		}
		t.mu.Lock()
		_, ok := t.deps[gen]
		t.mu.Unlock()
		if ok {
			v = append(v, t.unit.Gen())
		}
	}
	return
}

// linking returns a unit other than x being linked, nil when none is.
func (p *Pool) linking(x *Tracker) *Tracker {
	for _, t := range p.Loaded {
		if t == x {
			continue
		}
		t.mu.Lock()
		busy := t.linking
		t.mu.Unlock()
		if busy {
			return t
		}
	}
	return nil
}

// Generations of loaded units in submission order.
func (p *Pool) Generations() []unit.Generation {
	p.RLock()
	defer p.RUnlock()
	v := make([]unit.Generation, len(p.Loaded))
	for i, t := range p.Loaded {
		v[i] = t.unit.Gen()
	}
	return v
}

// Symbols defined by loaded units.
func (p *Pool) Symbols() []string {
	p.RLock()
	defer p.RUnlock()
	return fn.MapKeys(p.index)
}

func (t *Tracker) Unit() *unit.Unit { return t.unit }

// Kind of a name defined by the unit, Type when it defines no such symbol.
func (t *Tracker) Kind(name string) unit.Kind {
	if k, ok := t.kinds[name]; ok {
		return k
	}
	return unit.Type
}

// Entry point of the function name. Objects that don't describe their entries have every function
// called directly.
func (t *Tracker) Entry(name string) (backend.EntryPoint, bool) {
	if t.Kind(name) != unit.Func {
		return backend.EntryPoint{}, false
	}
	if t.entries == nil {
		return backend.EntryPoint{Symbol: name, Convention: backend.Direct}, true
	}
	return t.entries.Entry(name)
}

// Names defined by the unit.
func (t *Tracker) Names() []string { return slices.Clone(t.names) }

// Linked reports whether the object was linked into an image.
func (t *Tracker) Linked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.image != nil
}

// Image of the unit, nil until linked.
func (t *Tracker) Image() backend.Image {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.image
}
