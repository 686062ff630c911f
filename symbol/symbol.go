// Package symbol implements the layered name to address resolution of an incremental executor.
//
// Resolution order is fixed: injected symbols, symbols of loaded units, the host process
// (shared libraries first, then the process table) and finally registered generators such as
// peer executors. The first tier that knows a name wins.
package symbol

import (
	"errors"
	"maps"
	"slices"
	"sync"
)

type (
	// Addr is a raw address inside the running process.
	Addr uintptr
	// Resolver is one link of the resolution chain.
	Resolver interface {
		TryResolve(name string) (Addr, bool)
	}
	// ResolverFunc adapts a function to Resolver.
	ResolverFunc func(name string) (Addr, bool)
	// Map is a fixed Resolver, used for process tables.
	Map map[string]uintptr
	// Table holds injected symbols. Last writer of a name wins.
	Table struct {
		mu   sync.RWMutex
		syms map[string]Addr
	}
)

var (
	// ErrNotFound occurs when a name exhausts the chain.
	ErrNotFound = errors.New("symbol not found")
)

func (f ResolverFunc) TryResolve(name string) (Addr, bool) { return f(name) }

func (m Map) TryResolve(name string) (Addr, bool) {
	p, ok := m[name]
	if !ok || p == 0 {
		return 0, false
	}
	return Addr(p), true
}

// NewTable create an empty injected table.
func NewTable() *Table {
	return &Table{syms: make(map[string]Addr)}
}

// Replace injects or overrides name.
func (t *Table) Replace(name string, addr Addr) {
	t.mu.Lock()
	t.syms[name] = addr
	t.mu.Unlock()
}

// Remove an injected name, reports whether it existed.
func (t *Table) Remove(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.syms[name]
	delete(t.syms, name)
	return ok
}

func (t *Table) TryResolve(name string) (Addr, bool) {
	t.mu.RLock()
	a, ok := t.syms[name]
	t.mu.RUnlock()
	return a, ok
}

// Names of injected symbols, sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Sorted(maps.Keys(t.syms))
}

// Chain resolves through its members in order.
type Chain []Resolver

func (c Chain) TryResolve(name string) (Addr, bool) {
	for _, r := range c {
		if r == nil {
			continue
		}
		if a, ok := r.TryResolve(name); ok {
			return a, true
		}
	}
	return 0, false
}
