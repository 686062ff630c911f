package symbol

import (
	"maps"
	"slices"
	"sync"
)

// Unresolved collects names that exhausted the chain during an execution attempt.
// Each name is kept once until Drain.
type Unresolved struct {
	mu    sync.Mutex
	names map[string]struct{}
}

func NewUnresolved() *Unresolved {
	return &Unresolved{names: make(map[string]struct{})}
}

// Record name, reports whether it was not yet recorded.
func (u *Unresolved) Record(name string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.names[name]; ok {
		return false
	}
	u.names[name] = struct{}{}
	return true
}

func (u *Unresolved) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.names)
}

// Drain returns the sorted names and clears the set.
func (u *Unresolved) Drain() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.names) == 0 {
		return nil
	}
	v := slices.Sorted(maps.Keys(u.names))
	clear(u.names)
	return v
}
