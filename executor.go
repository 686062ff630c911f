package incremental

import (
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ZenLiuCN/incremental/atexit"
	"github.com/ZenLiuCN/incremental/backend"
	"github.com/ZenLiuCN/incremental/config"
	"github.com/ZenLiuCN/incremental/pool"
	"github.com/ZenLiuCN/incremental/symbol"
	"github.com/ZenLiuCN/incremental/unit"
	"go.uber.org/zap"
)

type (
	// Executor compiles, loads, runs and unloads compilation units.
	//
	// Submission, loading and unloading are expected from one driving goroutine. Lookups may run
	// concurrently with each other, AddAtExitFunc may be called from running code.
	Executor struct {
		cfg      config.Config
		cache    *backend.Cache
		pool     *pool.Pool
		provider *symbol.Provider
		atexit   *atexit.Registry
		seq      unit.Sequence
		mu       sync.Mutex
		states   map[unit.Generation]unit.State
		alive    symbol.Flag
		log      *zap.Logger
		cb       atomic.Pointer[callbacks]
	}
	// Option customizes an Executor.
	Option func(e *Executor)
	// Callbacks observe every entry into executed code: initializers and wrappers.
	// Both hooks run on the calling goroutine, ReturnedFromUserCode also after a panic.
	Callbacks interface {
		EnteringUserCode(symbol string, owner *unit.Unit)
		ReturnedFromUserCode(symbol string, owner *unit.Unit)
	}
	callbacks struct {
		Callbacks
	}
)

// WithConfig apply c.
func WithConfig(c config.Config) Option {
	return func(e *Executor) { e.cfg = c }
}

// WithLogger use l instead of the package logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// WithProcess set the resolver of the host process table.
func WithProcess(r symbol.Resolver) Option {
	return func(e *Executor) { e.provider.Host().SetProcess(r) }
}

// WithLibraries add shared library resolvers, searched before the process table.
func WithLibraries(r ...symbol.Resolver) Option {
	return func(e *Executor) {
		for _, l := range r {
			e.provider.Host().AddLibrary(l)
		}
	}
}

// WithCallbacks install cb, see SetCallbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(e *Executor) { e.SetCallbacks(cb) }
}

// NewExecutor create an executor emitting code with b.
func NewExecutor(b backend.Backend, opts ...Option) (*Executor, error) {
	if b == nil {
		return nil, ErrNoBackend
	}
	e := &Executor{
		cfg:      config.Default(),
		cache:    backend.NewCache(b),
		provider: symbol.NewProvider(nil, nil, nil),
		atexit:   atexit.NewRegistry(),
		states:   make(map[unit.Generation]unit.State),
		alive:    symbol.NewFlag(true),
		log:      Logger(),
	}
	for _, o := range opts {
		o(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	e.pool = pool.NewPool(e.provider.Linker(), e.cfg.StrictUnload)
	e.provider.SetImage(e.pool)
	e.provider.Host().Forbid(e.cfg.ForbiddenSymbols...)
	if e.cfg.SkipHostLookup {
		e.provider.Host().Skip().Lock()
	}
	return e, nil
}

// Config in use.
func (e *Executor) Config() config.Config { return e.cfg }

// Provider of symbols.
func (e *Executor) Provider() *symbol.Provider { return e.provider }

// SetCallbacks replace the hooks around executed code, nil removes them.
func (e *Executor) SetCallbacks(cb Callbacks) {
	if cb == nil {
		e.cb.Store(nil)
		return
	}
	e.cb.Store(&callbacks{cb})
}

// Callbacks installed, nil when none.
func (e *Executor) Callbacks() Callbacks {
	if c := e.cb.Load(); c != nil {
		return c.Callbacks
	}
	return nil
}

// NewUnit create a unit with the next generation. An empty pkg selects the configured package.
func (e *Executor) NewUnit(pkg string, optLevel int, init string, imports []string, decls ...unit.Decl) *unit.Unit {
	if pkg == "" {
		pkg = e.cfg.Package
	}
	return unit.New(e.seq.Next(), pkg, optLevel, init, imports, decls...)
}

// State of u.
func (e *Executor) State(u *unit.Unit) unit.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[u.Gen()]
}

func (e *Executor) move(u *unit.Unit, next unit.State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.states[u.Gen()].CanMove(next) {
		return false
	}
	e.states[u.Gen()] = next
	return true
}

// AddModule emit u and register it. Static initializers are not run.
// A failed submission leaves the executor usable.
func (e *Executor) AddModule(u *unit.Unit) error {
	if !e.alive.Value() {
		return ErrShutdown
	}
	switch st := e.State(u); st {
	case unit.Submitted, unit.Compiled:
	default:
		return fmt.Errorf("%w: %s is %s", ErrAlreadyAdded, u, st)
	}
	obj, err := e.cache.Emit(u)
	if err != nil {
		e.log.Warn("emit failed", zap.Stringer("unit", u), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrCompile, err)
	}
	e.move(u, unit.Compiled)
	if _, err = e.pool.Add(u, obj); err != nil {
		e.log.Warn("register failed", zap.Stringer("unit", u), zap.Error(err))
		return err
	}
	e.move(u, unit.Loaded)
	e.log.Debug("unit loaded", zap.Stringer("unit", u), zap.Int("opt", u.OptLevel()))
	return nil
}

// RunStaticInitializersOnce link u and run its initializer. Later calls are no-ops.
func (e *Executor) RunStaticInitializersOnce(u *unit.Unit) (ExecutionResult, error) {
	switch st := e.State(u); st {
	case unit.Initialized:
		return ExeSuccess, nil
	case unit.Loaded:
	default:
		return ExeFunctionNotCompiled, fmt.Errorf("%w: %s is %s", ErrNotLoaded, u, st)
	}
	trigger := u.Init()
	if trigger == "" {
		trigger = u.String()
	}
	if err := e.pool.Materialize(u.Gen()); err != nil {
		if r, uerr := e.diagnoseUnresolved(trigger); r != ExeSuccess {
			return r, uerr
		}
		return ExeFunctionNotCompiled, fmt.Errorf("%w: %s: %w", ErrFunctionNotCompiled, u, err)
	}
	if u.Init() == "" {
		return ExeSuccess, nil
	}
	addr, ep, _, err := e.entry(u.Init())
	if r, uerr := e.diagnoseUnresolved(trigger); r != ExeSuccess {
		return r, uerr
	}
	if err != nil {
		return ExeFunctionNotCompiled, fmt.Errorf("%w: %s: %w", ErrFunctionNotCompiled, u.Init(), err)
	}
	if !e.move(u, unit.Initialized) {
		return ExeSuccess, nil
	}
	return ExeSuccess, e.invoke(u.Init(), addr, ep.Convention, u, nil)
}

// ExecuteWrapper run the named entry point. Host process symbols are not searched for it, and names
// of loaded units that are not entry point functions report ExeFunctionNotCompiled.
// ret may be nil. A panic of the executed code is returned as *PanicError with ExeSuccess.
func (e *Executor) ExecuteWrapper(name string, ret *Value) (ExecutionResult, error) {
	name = e.qualify(name)
	addr, ep, owner, err := e.entry(name)
	if r, uerr := e.diagnoseUnresolved(name); r != ExeSuccess {
		return r, uerr
	}
	if err != nil {
		return ExeFunctionNotCompiled, fmt.Errorf("%w: %s: %w", ErrFunctionNotCompiled, name, err)
	}
	return ExeSuccess, e.invoke(name, addr, ep.Convention, owner, ret)
}

// entry finds the entry point of name in resolution order without the host tier. Injected symbols
// and plain generators are called directly, functions of loaded units and peers by the convention
// of their backend.
func (e *Executor) entry(name string) (symbol.Addr, backend.EntryPoint, *unit.Unit, error) {
	direct := backend.EntryPoint{Symbol: name, Convention: backend.Direct}
	if a, ok := e.provider.Injected().TryResolve(name); ok {
		return a, direct, nil, nil
	}
	if e.pool.Has(name) {
		a, ep, t, err := e.pool.Entry(name, nil)
		if t == nil {
			return a, ep, nil, err
		}
		return a, ep, t.Unit(), err
	}
	for _, g := range e.provider.Generators() {
		if l, ok := g.(*PeerLink); ok {
			if a, ep, found, err := l.entry(name); found {
				return a, ep, nil, err
			}
			continue
		}
		if a, ok := g.TryResolve(name); ok {
			return a, direct, nil, nil
		}
	}
	return 0, direct, nil, symbol.ErrNotFound
}

func (e *Executor) invoke(name string, addr symbol.Addr, conv backend.Convention, owner *unit.Unit, ret *Value) (err error) {
	c := &Call{exec: e, owner: owner, ret: ret}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Symbol: name, Value: r, Stack: debug.Stack()}
			e.log.Warn("executed code panicked", zap.String("symbol", name), zap.Any("panic", r))
		}
	}()
	if cb := e.Callbacks(); cb != nil {
		cb.EnteringUserCode(name, owner)
		defer cb.ReturnedFromUserCode(name, owner)
	}
	switch conv {
	case backend.Direct:
		As[Entry](addr)(c)
	case backend.Wrapped:
		As[Wrapper](addr)(c)
	default:
		return fmt.Errorf("%w: %s called as %s", ErrFunctionNotCompiled, name, conv)
	}
	return
}

// diagnoseUnresolved report and empty the unresolved set.
func (e *Executor) diagnoseUnresolved(trigger string) (ExecutionResult, error) {
	names := e.provider.Unresolved().Drain()
	if len(names) == 0 {
		return ExeSuccess, nil
	}
	e.log.Warn("unresolved symbols", zap.String("trigger", trigger), zap.Strings("symbols", names))
	return ExeUnresolvedSymbols, &UnresolvedError{Trigger: trigger, Symbols: names}
}

func (e *Executor) qualify(name string) string {
	return unit.Qualify(e.cfg.Package, name)
}

// AddAtExitFunc register fn for owner, owner nil binds it to executor shutdown only.
// Safe to call from executing code.
func (e *Executor) AddAtExitFunc(fn atexit.Func, arg unsafe.Pointer, owner *unit.Unit) {
	var gen unit.Generation
	if owner != nil {
		gen = owner.Gen()
	}
	e.atexit.Add(fn, arg, gen)
}

// RunAndRemoveStaticDestructors run the callbacks of u newest first and forget them.
func (e *Executor) RunAndRemoveStaticDestructors(u *unit.Unit) int {
	n := e.atexit.Run(u.Gen())
	if n > 0 {
		e.log.Debug("destructors run", zap.Stringer("unit", u), zap.Int("count", n))
	}
	return n
}

// RunAtExitFuncs run every pending callback once, newest unit first.
func (e *Executor) RunAtExitFuncs() int {
	return e.atexit.RunAll()
}

// ShuttingDown run every pending callback and stop serving peers.
func (e *Executor) ShuttingDown() {
	e.RunAtExitFuncs()
	e.alive.Lock()
}

// UnloadModule run the destructors of u then remove its code. Unloading an unloaded unit is a no-op.
func (e *Executor) UnloadModule(u *unit.Unit) error {
	switch st := e.State(u); st {
	case unit.Unloaded:
		return nil
	case unit.Loaded, unit.Initialized:
	default:
		return fmt.Errorf("%w: %s is %s", ErrNotLoaded, u, st)
	}
	e.RunAndRemoveStaticDestructors(u)
	return e.RemoveModule(u)
}

// RemoveModule release the code and symbols of u without running destructors.
func (e *Executor) RemoveModule(u *unit.Unit) error {
	if err := e.pool.Remove(u.Gen()); err != nil {
		if errors.Is(err, pool.ErrNotLoad) {
			return fmt.Errorf("%w: %s", ErrNotLoaded, u)
		}
		e.log.Warn("unload failed", zap.Stringer("unit", u), zap.Error(err))
		return err
	}
	e.cache.Evict(u.Gen())
	e.move(u, unit.Unloaded)
	e.log.Debug("unit unloaded", zap.Stringer("unit", u))
	return nil
}

// ReplaceSymbol inject or override name with the highest priority. The name is used verbatim.
func (e *Executor) ReplaceSymbol(name string, addr symbol.Addr) {
	e.provider.Injected().Replace(name, addr)
}

// GetAddressOfGlobal address of a global without searching the host process, and whether the
// address belongs to emitted code. Zero when not found.
func (e *Executor) GetAddressOfGlobal(name string) (addr symbol.Addr, fromJIT bool) {
	a, tier, ok := e.provider.Lookup(e.qualify(name), false)
	if !ok {
		return 0, false
	}
	return a, tier.FromJIT()
}

// GetPointerToGlobalFromJIT address of a global defined by a loaded unit, linking it if needed.
func (e *Executor) GetPointerToGlobalFromJIT(name string) symbol.Addr {
	a, _ := e.pool.TryResolve(e.qualify(name))
	return a
}

// DoesSymbolAlreadyExist reports whether name is injected or defined by a loaded unit.
func (e *Executor) DoesSymbolAlreadyExist(name string) bool {
	if _, ok := e.provider.Injected().TryResolve(name); ok {
		return true
	}
	return e.pool.Has(name)
}

// Fetch resolve a symbol like GetAddressOfGlobal.
func (e *Executor) Fetch(name string) (symbol.Addr, bool) {
	a, _ := e.GetAddressOfGlobal(name)
	return a, a != 0
}

// MustFetch resolve a symbol, panics with ErrMissingSymbol.
func (e *Executor) MustFetch(name string) symbol.Addr {
	a, ok := e.Fetch(name)
	if !ok {
		panic(fmt.Errorf("%w: %s", ErrMissingSymbol, name))
	}
	return a
}

// AddGenerator append a fallback resolver, consulted after every built-in tier.
func (e *Executor) AddGenerator(r symbol.Resolver) {
	e.provider.AddGenerator(r)
}

// Units loaded, in submission order.
func (e *Executor) Units() []unit.Generation {
	return e.pool.Generations()
}

// Unit of a loaded generation, nil when it isn't loaded.
func (e *Executor) Unit(g unit.Generation) *unit.Unit {
	if t := e.pool.Tracker(g); t != nil {
		return t.Unit()
	}
	return nil
}

// Owner of a symbol defined by a loaded unit, nil when none defines it.
func (e *Executor) Owner(name string) *unit.Unit {
	if t := e.pool.Owner(e.qualify(name)); t != nil {
		return t.Unit()
	}
	return nil
}

// Symbols defined by loaded units, sorted.
func (e *Executor) Symbols() []string {
	v := e.pool.Symbols()
	slices.Sort(v)
	return v
}

// Close shut down: run every pending callback, then unload every unit newest first.
func (e *Executor) Close() (err error) {
	if !e.alive.Value() && len(e.pool.Generations()) == 0 {
		return nil
	}
	e.ShuttingDown()
	gens := e.pool.Generations()
	slices.Reverse(gens)
	for _, g := range gens {
		t := e.pool.Tracker(g)
		if t == nil {
			continue
		}
		err = errors.Join(err, e.RemoveModule(t.Unit()))
	}
	return
}
