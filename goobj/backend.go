// Package goobj is the machine code backend of an incremental executor, based on [goloader].
//
// A unit is rendered to go source, cleaned by the imports pass, compiled by `go tool compile`
// into a relocatable object file and read by goloader. Linking resolves every external symbol
// through the executor's resolution chain and maps the code into executable memory, unloading
// releases it.
//
// The go sdk must be prepared before building anything importing this package, see PrepareSDK.
// Units importing packages outside the standard library need a work directory inside a module
// requiring them.
//
// [goloader]: https://github.com/pkujhd/goloader
package goobj

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/ZenLiuCN/incremental/backend"
	"github.com/ZenLiuCN/incremental/symbol"
	"github.com/ZenLiuCN/incremental/unit"
	"github.com/pkujhd/goloader"
	"go.uber.org/zap"
)

type (
	// Backend compiles units with the go tool.
	Backend struct {
		workDir string
		temp    bool
		keep    bool
		save    string
	}
	object struct {
		gen     unit.Generation
		linker  *goloader.Linker
		defines []string
		entries map[string]string
		linked  bool
		mu      sync.Mutex
	}
	image struct {
		mu     sync.RWMutex
		module *goloader.CodeModule
	}
)

var (
	// ErrLoad occurs when goloader fails to map a linked object.
	ErrLoad = errors.New("load object failed")
	// ErrRelink occurs when an object is linked a second time.
	ErrRelink = errors.New("object already linked")
)

// NewBackend create a backend working inside workDir, a temporary directory when empty.
// keep preserves the generated sources and objects for inspection.
func NewBackend(workDir string, keep bool) (b *Backend, err error) {
	b = &Backend{workDir: workDir, keep: keep}
	if workDir == "" {
		if b.workDir, err = os.MkdirTemp("", "incremental-"); err != nil {
			return nil, err
		}
		b.temp = true
	} else if err = os.MkdirAll(workDir, 0o755); err != nil {
		return nil, err
	}
	return
}

func (b *Backend) WorkDir() string { return b.workDir }

// SaveTo make every later emission also write its serialized linker into dir as unit<gen>.linker,
// readable by ReadLinker. An empty dir stops saving.
func (b *Backend) SaveTo(dir string) error {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b.save = dir
	return nil
}

func (b *Backend) saveLinker(u *unit.Unit, l *goloader.Linker) (err error) {
	f, err := os.Create(filepath.Join(b.save, fmt.Sprintf("unit%d.linker", u.Gen())))
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, f.Close()) }()
	return writeLinker(l, f)
}

func (b *Backend) Emit(u *unit.Unit) (backend.Object, error) {
	src, err := Format(u)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(b.workDir, fmt.Sprintf("unit%d", u.Gen()))
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if !b.keep {
		defer func() { _ = os.RemoveAll(dir) }()
	}
	file := "unit.go"
	if err = os.WriteFile(filepath.Join(dir, file), src, 0o644); err != nil {
		return nil, err
	}
	cfg, err := Imports(dir, []string{file})
	if err != nil {
		return nil, backend.Malformed(u, "%s", err)
	}
	out := filepath.Join(dir, "unit.o")
	if err = Compile(dir, u.Package(), cfg, out, u.OptLevel(), []string{file}); err != nil {
		return nil, backend.Malformed(u, "%s", err)
	}
	l, err := goloader.ReadObj(out, u.Package())
	if err != nil {
		return nil, backend.Malformed(u, "read object: %s", err)
	}
	if b.save != "" {
		if err = b.saveLinker(u, l); err != nil {
			return nil, fmt.Errorf("save linker of %s: %w", u, err)
		}
	}
	Logger().Debug("unit compiled", zap.Stringer("unit", u), zap.String("dir", dir), zap.Int("opt", u.OptLevel()))
	o := &object{gen: u.Gen(), linker: l, defines: u.Defines(), entries: make(map[string]string)}
	for name, local := range Shims(u) {
		o.entries[name] = u.Package() + "." + local
	}
	return o, nil
}

// Close remove the work directory when it's temporary.
func (b *Backend) Close() error {
	if b.temp && !b.keep {
		return os.RemoveAll(b.workDir)
	}
	return nil
}

func (o *object) Defines() []string { return slices.Clone(o.defines) }

// Entry of a function is its shim, functions without one can't be executed.
func (o *object) Entry(name string) (backend.EntryPoint, bool) {
	s, ok := o.entries[name]
	if !ok {
		return backend.EntryPoint{}, false
	}
	return backend.EntryPoint{Symbol: s, Convention: backend.Wrapped}, true
}

// Missing externals of the object, resolved names excluded.
func (o *object) Missing(resolved map[string]uintptr) []string {
	return goloader.UnresolvedSymbols(o.linker, resolved)
}

func (o *object) Link(r symbol.Resolver) (backend.Image, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.linked {
		return nil, ErrRelink
	}
	syms := make(map[string]uintptr)
	var missing []string
	for _, n := range o.Missing(syms) {
		if _, ok := syms[n]; ok {
			continue
		}
		if a, ok := r.TryResolve(n); ok {
			syms[n] = uintptr(a)
			continue
		}
		missing = append(missing, n)
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, &backend.LinkError{Unit: o.gen, Missing: slices.Compact(missing)}
	}
	m, err := goloader.Load(o.linker, syms)
	if err != nil {
		return nil, fmt.Errorf("%w: unit#%d: %w", ErrLoad, o.gen, err)
	}
	o.linked = true
	Logger().Debug("unit linked", zap.Uint64("gen", uint64(o.gen)), zap.Int("externals", len(syms)))
	return &image{module: m}, nil
}

func (i *image) Lookup(name string) (symbol.Addr, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.module == nil {
		return 0, false
	}
	p, ok := i.module.Syms[name]
	return symbol.Addr(p), ok && p != 0
}

func (i *image) Symbols() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.module == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(i.module.Syms))
}

func (i *image) Unload() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.module == nil {
		return backend.ErrUnloaded
	}
	_ = os.Stdout.Sync()
	i.module.Unload()
	i.module = nil
	return nil
}
