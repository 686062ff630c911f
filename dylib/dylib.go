// Package dylib tracks the shared libraries an executor may resolve symbols from.
package dylib

import (
	"errors"
	"slices"
	"sync"

	"github.com/ZenLiuCN/incremental/symbol"
)

type (
	library struct {
		path   string
		handle uintptr
	}
	// Manager of opened libraries, searched in load order.
	Manager struct {
		mu   sync.RWMutex
		libs []library
	}
)

var (
	ErrUnsupported = errors.New("dynamic libraries unsupported on this platform")
	ErrNotOpened   = errors.New("library not opened")
)

func NewManager() *Manager {
	return new(Manager)
}

// Load open path once, later loads of the same path are no-ops.
func (m *Manager) Load(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.libs {
		if l.path == path {
			return nil
		}
	}
	h, err := open(path)
	if err != nil {
		return err
	}
	m.libs = append(m.libs, library{path: path, handle: h})
	return nil
}

// Unload close path.
func (m *Manager) Unload(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.IndexFunc(m.libs, func(l library) bool { return l.path == path })
	if i < 0 {
		return ErrNotOpened
	}
	if err := closeLib(m.libs[i].handle); err != nil {
		return err
	}
	m.libs = slices.Delete(m.libs, i, i+1)
	return nil
}

// Libraries opened, in load order.
func (m *Manager) Libraries() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v := make([]string, len(m.libs))
	for i, l := range m.libs {
		v[i] = l.path
	}
	return v
}

func (m *Manager) TryResolve(name string) (symbol.Addr, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.libs {
		if p, ok := lookup(l.handle, name); ok {
			return symbol.Addr(p), true
		}
	}
	return 0, false
}

// Close every library, newest first.
func (m *Manager) Close() (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.libs) - 1; i >= 0; i-- {
		err = errors.Join(err, closeLib(m.libs[i].handle))
	}
	m.libs = nil
	return
}

// Process resolves names among every object already loaded into the process.
func Process() symbol.Resolver {
	return symbol.ResolverFunc(func(name string) (symbol.Addr, bool) {
		p, ok := lookup(defaultHandle, name)
		return symbol.Addr(p), ok
	})
}
