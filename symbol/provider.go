package symbol

import (
	"slices"
	"sync"
)

// Tier that produced an address.
type Tier uint8

const (
	TierNone Tier = iota
	TierInjected
	TierImage
	TierHost
	TierGenerator
)

func (t Tier) String() string {
	switch t {
	case TierInjected:
		return "injected"
	case TierImage:
		return "image"
	case TierHost:
		return "host"
	case TierGenerator:
		return "generator"
	default:
		return "none"
	}
}

// FromJIT reports whether addresses of this tier belong to emitted code that may go away on unload.
func (t Tier) FromJIT() bool {
	return t == TierImage || t == TierGenerator
}

// Provider is the resolution chain of one executor.
type Provider struct {
	injected   *Table
	image      Resolver
	host       *Host
	unresolved *Unresolved
	mu         sync.RWMutex
	generators []Resolver
}

// NewProvider create a chain. The image tier is attached later by SetImage since it usually
// needs the provider to link lazily.
func NewProvider(injected *Table, host *Host, unresolved *Unresolved) *Provider {
	if injected == nil {
		injected = NewTable()
	}
	if host == nil {
		host = NewHost(nil)
	}
	if unresolved == nil {
		unresolved = NewUnresolved()
	}
	return &Provider{injected: injected, host: host, unresolved: unresolved}
}

func (p *Provider) SetImage(r Resolver) {
	p.mu.Lock()
	p.image = r
	p.mu.Unlock()
}

func (p *Provider) Injected() *Table { return p.injected }
func (p *Provider) Host() *Host { return p.host }
func (p *Provider) Unresolved() *Unresolved { return p.unresolved }

// AddGenerator append a fallback resolver consulted after every other tier.
func (p *Provider) AddGenerator(r Resolver) {
	p.mu.Lock()
	p.generators = append(p.generators, r)
	p.mu.Unlock()
}

// RemoveGenerator drop r, reports whether it was registered. r must be comparable.
func (p *Provider) RemoveGenerator(r Resolver) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := slices.Index(p.generators, r)
	if i < 0 {
		return false
	}
	p.generators = slices.Delete(p.generators, i, i+1)
	return true
}

// Generators registered, in consultation order.
func (p *Provider) Generators() []Resolver {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.generators)
}

// Lookup walks the chain without recording misses.
func (p *Provider) Lookup(name string, includeHost bool) (Addr, Tier, bool) {
	return p.lookup(name, includeHost, nil)
}

// lookup walks the chain, a non nil image replaces the image tier.
func (p *Provider) lookup(name string, includeHost bool, image Resolver) (Addr, Tier, bool) {
	if a, ok := p.injected.TryResolve(name); ok {
		return a, TierInjected, true
	}
	p.mu.RLock()
	if image == nil {
		image = p.image
	}
	gens := slices.Clone(p.generators)
	p.mu.RUnlock()
	if image != nil {
		if a, ok := image.TryResolve(name); ok {
			return a, TierImage, true
		}
	}
	if includeHost {
		if a, ok := p.host.TryResolve(name); ok {
			return a, TierHost, true
		}
	}
	for _, g := range gens {
		if a, ok := g.TryResolve(name); ok {
			return a, TierGenerator, true
		}
	}
	return 0, TierNone, false
}

// Resolve walks the chain and records a miss in the unresolved set.
func (p *Provider) Resolve(name string, includeHost bool) (Addr, bool) {
	a, _, ok := p.Lookup(name, includeHost)
	if !ok {
		p.unresolved.Record(name)
	}
	return a, ok
}

// Linker returns the resolver used when linking emitted code: host lookup enabled, misses recorded.
func (p *Provider) Linker() Resolver {
	return ResolverFunc(func(name string) (Addr, bool) {
		return p.Resolve(name, true)
	})
}

// LinkerWith returns a linking resolver walking this chain with image as the image tier and misses
// recorded into unresolved. It links code on behalf of another chain.
func (p *Provider) LinkerWith(image Resolver, unresolved *Unresolved) Resolver {
	return ResolverFunc(func(name string) (Addr, bool) {
		a, _, ok := p.lookup(name, true, image)
		if !ok {
			unresolved.Record(name)
		}
		return a, ok
	})
}
