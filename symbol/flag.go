package symbol

import "sync/atomic"

// Flag is an atomic boolean whose state is shared by every copy.
//
// A Flag is created with its unlocked state; Lock stores the opposite value.
// The zero Flag is unusable, create one with NewFlag.
type Flag struct {
	v        *atomic.Bool
	unlocked bool
}

// NewFlag create a Flag that currently reads unlocked.
func NewFlag(unlocked bool) Flag {
	f := Flag{v: new(atomic.Bool), unlocked: unlocked}
	f.v.Store(unlocked)
	return f
}

// Lock set the flag to its locked value. It does not nest.
func (f Flag) Lock() { f.v.Store(!f.unlocked) }

// Unlock restore the unlocked value.
func (f Flag) Unlock() { f.v.Store(f.unlocked) }

// Value current stored value.
func (f Flag) Value() bool { return f.v.Load() }

// Locked reports whether the flag holds its locked value.
func (f Flag) Locked() bool { return f.v.Load() != f.unlocked }
