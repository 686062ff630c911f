package goobj

import (
	"errors"
	"sync"

	"github.com/ZenLiuCN/fn"
	"github.com/ZenLiuCN/incremental/symbol"
	"github.com/pkujhd/goloader"
	"go.uber.org/zap"
)

// Host is the symbol table of the running executable, it serves as the process tier of an
// executor using this backend.
type Host struct {
	mu      sync.RWMutex
	syms    map[string]uintptr
	sources []string
}

var (
	// ErrAlreadyExists occurs when the same library or executable is registered twice.
	ErrAlreadyExists = errors.New("already imported same file into host table")
)

// NewHost register the symbols of the running executable.
func NewHost() (h *Host, err error) {
	h = &Host{syms: make(map[string]uintptr)}
	if err = goloader.RegSymbol(h.syms); err != nil {
		return nil, err
	}
	Logger().Debug("host symbols registered", zap.Int("count", len(h.syms)))
	return
}

func (h *Host) seen(p string) bool {
	for _, s := range h.sources {
		if s == p {
			return true
		}
	}
	return false
}

// AddLibrary add the exported symbols of a shared object.
func (h *Host) AddLibrary(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen(path) {
		return ErrAlreadyExists
	}
	if err := goloader.RegSymbolWithSo(h.syms, path); err != nil {
		return err
	}
	h.sources = append(h.sources, path)
	return nil
}

// AddExecutable add the symbols of another executable, usually the current one when it was
// started from a copy.
func (h *Host) AddExecutable(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen(path) {
		return ErrAlreadyExists
	}
	if err := goloader.RegSymbolWithPath(h.syms, path); err != nil {
		return err
	}
	h.sources = append(h.sources, path)
	return nil
}

func (h *Host) TryResolve(name string) (symbol.Addr, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.syms[name]
	if !ok || p == 0 {
		return 0, false
	}
	return symbol.Addr(p), true
}

// Symbols names in the table.
func (h *Host) Symbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fn.MapKeys(h.syms)
}

// Len of the table.
func (h *Host) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.syms)
}

// Reset drop libraries and executables then register the running executable again.
// Only safe when no unit linked against the dropped symbols is still loaded.
func (h *Host) Reset() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.syms)
	h.sources = nil
	return goloader.RegSymbol(h.syms)
}
