// Package atexit keeps the cleanup callbacks registered by executed code, grouped per owning unit.
//
// Registration happens from inside running user code, so the registry is guarded by a spin lock
// that is never held while a callback runs. Callbacks of one group run in reverse registration
// order; running a group consumes it.
package atexit

import (
	"runtime"
	"slices"
	"sync/atomic"
	"unsafe"

	"github.com/ZenLiuCN/incremental/unit"
)

type (
	// Func is a destructor-like callback receiving its opaque argument.
	Func func(arg unsafe.Pointer)
	// Entry pairs a callback with its argument and owner.
	Entry struct {
		Func  Func
		Arg   unsafe.Pointer
		Owner unit.Generation
	}
	// SpinLock is a non-blocking mutual exclusion for very short sections.
	SpinLock struct {
		v atomic.Bool
	}
	// Registry of entries, iterated in owner registration order.
	Registry struct {
		lock   SpinLock
		order  []unit.Generation
		groups map[unit.Generation][]Entry
	}
)

func (s *SpinLock) Lock() {
	for !s.v.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (s *SpinLock) TryLock() bool {
	return s.v.CompareAndSwap(false, true)
}

func (s *SpinLock) Unlock() {
	s.v.Store(false)
}

func NewRegistry() *Registry {
	return &Registry{groups: make(map[unit.Generation][]Entry)}
}

// Add append fn to the group of owner.
func (r *Registry) Add(fn Func, arg unsafe.Pointer, owner unit.Generation) {
	if fn == nil {
		return
	}
	r.lock.Lock()
	if _, ok := r.groups[owner]; !ok {
		r.order = append(r.order, owner)
	}
	r.groups[owner] = append(r.groups[owner], Entry{Func: fn, Arg: arg, Owner: owner})
	r.lock.Unlock()
}

// Len number of pending entries of owner.
func (r *Registry) Len(owner unit.Generation) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.groups[owner])
}

// Owners with pending entries, in first registration order.
func (r *Registry) Owners() []unit.Generation {
	r.lock.Lock()
	defer r.lock.Unlock()
	return slices.Clone(r.order)
}

func (r *Registry) take(owner unit.Generation) []Entry {
	r.lock.Lock()
	defer r.lock.Unlock()
	g, ok := r.groups[owner]
	if !ok {
		return nil
	}
	delete(r.groups, owner)
	if i := slices.Index(r.order, owner); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return g
}

// Run invoke and remove the group of owner, newest entry first. Entries the callbacks register
// for the same owner run too. Returns the number of callbacks run.
func (r *Registry) Run(owner unit.Generation) (n int) {
	for {
		g := r.take(owner)
		if len(g) == 0 {
			return
		}
		for i := len(g) - 1; i >= 0; i-- {
			g[i].Func(g[i].Arg)
			n++
		}
	}
}

// RunAll invoke and remove every group, newest owner first.
func (r *Registry) RunAll() (n int) {
	for {
		r.lock.Lock()
		if len(r.order) == 0 {
			r.lock.Unlock()
			return
		}
		owner := r.order[len(r.order)-1]
		r.lock.Unlock()
		n += r.Run(owner)
	}
}
