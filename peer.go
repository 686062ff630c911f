package incremental

import (
	"weak"

	"github.com/ZenLiuCN/incremental/backend"
	"github.com/ZenLiuCN/incremental/symbol"
)

// PeerLink lets an executor fall back to the symbols of another executor, typically a parent.
//
// The link never owns the peer: it holds a weak pointer plus the peer's liveness flag, so it goes
// quiet once the peer shuts down or is collected. Unlink removes it explicitly.
type PeerLink struct {
	owner   *Executor
	peer    weak.Pointer[Executor]
	alive   symbol.Flag
	enabled symbol.Flag
}

// RegisterExternalIncrementalExecutor resolve names this executor can't find among the injected
// symbols and loaded units of peer.
func (e *Executor) RegisterExternalIncrementalExecutor(peer *Executor) (*PeerLink, error) {
	if peer == nil || peer == e {
		return nil, ErrSelfLink
	}
	l := &PeerLink{
		owner:   e,
		peer:    weak.Make(peer),
		alive:   peer.alive,
		enabled: symbol.NewFlag(true),
	}
	e.provider.AddGenerator(l)
	return l, nil
}

// Active reports whether the link still consults its peer.
func (l *PeerLink) Active() bool {
	return l.enabled.Value() && l.alive.Value() && l.peer.Value() != nil
}

// Unlink stop consulting the peer and drop the link from its owner.
func (l *PeerLink) Unlink() {
	l.enabled.Lock()
	l.owner.provider.RemoveGenerator(l)
}

// live peer, nil when the link went quiet.
func (l *PeerLink) live() *Executor {
	if !l.enabled.Value() || !l.alive.Value() {
		return nil
	}
	p := l.peer.Value()
	if p == nil {
		l.enabled.Lock()
	}
	return p
}

func (l *PeerLink) TryResolve(name string) (symbol.Addr, bool) {
	p := l.live()
	if p == nil {
		return 0, false
	}
	return p.resolveLocal(name, l.owner)
}

// entry point of name in the peer, found reports whether the peer knows the name at all.
func (l *PeerLink) entry(name string) (a symbol.Addr, ep backend.EntryPoint, found bool, err error) {
	p := l.live()
	if p == nil {
		return
	}
	if a, ok := p.provider.Injected().TryResolve(name); ok {
		return a, backend.EntryPoint{Symbol: name, Convention: backend.Direct}, true, nil
	}
	if !p.pool.Has(name) {
		return
	}
	a, ep, _, err = p.pool.Entry(name, p.linkerFor(l.owner))
	return a, ep, true, err
}

// resolveLocal searches name among injected symbols and loaded units only, on behalf of asker.
// Generators are skipped so mutually linked executors can't recurse on a name nobody defines.
func (e *Executor) resolveLocal(name string, asker *Executor) (symbol.Addr, bool) {
	if a, ok := e.provider.Injected().TryResolve(name); ok {
		return a, true
	}
	return e.pool.TryResolveWith(name, e.linkerFor(asker))
}

// linkerFor links units of e through the chain of e, misses are recorded for asker so they never
// surface in an unrelated execution of e.
func (e *Executor) linkerFor(asker *Executor) symbol.Resolver {
	var linker symbol.Resolver
	image := symbol.ResolverFunc(func(name string) (symbol.Addr, bool) {
		return e.pool.TryResolveWith(name, linker)
	})
	linker = e.provider.LinkerWith(image, asker.provider.Unresolved())
	return linker
}
