// Package backend defines how compilation units become loadable code.
//
// Emission and linking are separate steps: Emit turns a unit into an Object without touching
// anything else, Link binds the object's external references and yields a live Image.
package backend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ZenLiuCN/incremental/symbol"
	"github.com/ZenLiuCN/incremental/unit"
)

type (
	// Backend emits code for units.
	Backend interface {
		Emit(u *unit.Unit) (Object, error)
	}
	// Object is emitted but unlinked code of one unit.
	Object interface {
		Defines() []string
		Link(r symbol.Resolver) (Image, error)
	}
	// Entries is implemented by objects that know how their functions are called as entry points.
	// Objects without it have every function called directly.
	Entries interface {
		Entry(name string) (EntryPoint, bool)
	}
	// EntryPoint is the symbol an executor calls for a function and how it calls it.
	EntryPoint struct {
		Symbol     string
		Convention Convention
	}
	// Convention of an entry point.
	Convention uint8
	// Image is linked code and data of one unit, addressable until Unload.
	Image interface {
		Lookup(name string) (symbol.Addr, bool)
		Symbols() []string
		Unload() error
	}
	// LinkError lists the externals that could not be bound.
	LinkError struct {
		Unit    unit.Generation
		Missing []string
	}
)

const (
	// NotEntry functions can't be called by an executor.
	NotEntry Convention = iota
	// Direct entry points are shaped func(*Call).
	Direct
	// Wrapped entry points are synthesized shims shaped func(Caller), Caller being an interface with
	// the AtExit and Return methods of a Call.
	Wrapped
)

const (
	MinOptLevel = 0
	MaxOptLevel = 3
)

var (
	// ErrMalformed occurs when a unit can't be emitted.
	ErrMalformed = errors.New("malformed compilation unit")
	// ErrOptLevel occurs when the optimization level is out of range.
	ErrOptLevel = errors.New("invalid optimization level")
	// ErrUnloaded occurs when an image is used after unload.
	ErrUnloaded = errors.New("image already unloaded")
)

func (c Convention) String() string {
	switch c {
	case Direct:
		return "direct"
	case Wrapped:
		return "wrapped"
	default:
		return "none"
	}
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("unit#%d: unresolved external symbols: %s", e.Unit, strings.Join(e.Missing, ", "))
}

// CheckLevel validate an optimization level.
func CheckLevel(level int) error {
	if level < MinOptLevel || level > MaxOptLevel {
		return fmt.Errorf("%w: %d", ErrOptLevel, level)
	}
	return nil
}

// Malformed wraps a reason into ErrMalformed.
func Malformed(u *unit.Unit, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformed, u, fmt.Sprintf(format, args...))
}
