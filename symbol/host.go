package symbol

import "sync"

// Host resolves names against shared libraries known to the engine, then the host process table.
//
// Lookups are refused for forbidden names and while the skip flag is locked.
type Host struct {
	mu        sync.RWMutex
	libraries []Resolver
	process   Resolver
	forbid    map[string]struct{}
	skip      Flag
}

// NewHost create a host tier. process may be nil.
func NewHost(process Resolver, libraries ...Resolver) *Host {
	return &Host{
		libraries: libraries,
		process:   process,
		forbid:    make(map[string]struct{}),
		skip:      NewFlag(false),
	}
}

// AddLibrary append a library resolver, searched after the ones added before.
func (h *Host) AddLibrary(r Resolver) {
	h.mu.Lock()
	h.libraries = append(h.libraries, r)
	h.mu.Unlock()
}

// SetProcess replace the process table resolver.
func (h *Host) SetProcess(r Resolver) {
	h.mu.Lock()
	h.process = r
	h.mu.Unlock()
}

// Forbid dynamic lookup of names.
func (h *Host) Forbid(names ...string) {
	h.mu.Lock()
	for _, n := range names {
		h.forbid[n] = struct{}{}
	}
	h.mu.Unlock()
}

// Allow dynamic lookup of names again.
func (h *Host) Allow(names ...string) {
	h.mu.Lock()
	for _, n := range names {
		delete(h.forbid, n)
	}
	h.mu.Unlock()
}

func (h *Host) Forbidden(name string) bool {
	h.mu.RLock()
	_, ok := h.forbid[name]
	h.mu.RUnlock()
	return ok
}

// Skip returns the shared flag, locking it disables the whole tier.
func (h *Host) Skip() Flag { return h.skip }

func (h *Host) TryResolve(name string) (Addr, bool) {
	if h.skip.Locked() {
		return 0, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.forbid[name]; ok {
		return 0, false
	}
	for _, l := range h.libraries {
		if a, ok := l.TryResolve(name); ok {
			return a, true
		}
	}
	if h.process != nil {
		return h.process.TryResolve(name)
	}
	return 0, false
}
