package incremental

import (
	"fmt"
	"unsafe"

	"github.com/ZenLiuCN/incremental/atexit"
	"github.com/ZenLiuCN/incremental/symbol"
	"github.com/ZenLiuCN/incremental/unit"
)

type (
	// Entry is the calling convention of initializers and wrappers.
	Entry = func(c *Call)
	// Caller is the view of a Call handed to entry points compiled from source, which can't
	// name this package.
	Caller interface {
		AtExit(fn atexit.Func, arg unsafe.Pointer)
		Return(x any)
	}
	// Wrapper is the calling convention of synthesized entry shims.
	Wrapper = func(c Caller)
	// Call is handed to a running entry point.
	Call struct {
		exec  *Executor
		owner *unit.Unit
		ret   *Value
	}
	// Value is an optional typed return slot.
	Value struct {
		v     any
		valid bool
	}
)

var _ Caller = (*Call)(nil)

func (c *Call) Executor() *Executor { return c.exec }

// Unit owning the running entry point, nil for injected or peer code.
func (c *Call) Unit() *unit.Unit { return c.owner }

// Return store x into the caller's slot, ignored when the caller passed none.
func (c *Call) Return(x any) {
	if c.ret != nil {
		c.ret.Set(x)
	}
}

// AtExit register fn to run when the owning unit is unloaded or the executor shuts down.
func (c *Call) AtExit(fn atexit.Func, arg unsafe.Pointer) {
	c.exec.AddAtExitFunc(fn, arg, c.owner)
}

func (v *Value) Set(x any) {
	v.v = x
	v.valid = true
}

func (v *Value) Get() any      { return v.v }
func (v *Value) IsValid() bool { return v.valid }

func (v *Value) Clear() {
	v.v = nil
	v.valid = false
}

func (v *Value) String() string {
	if !v.valid {
		return "<invalid>"
	}
	return fmt.Sprintf("%v", v.v)
}

// ValueAs the stored value as T.
func ValueAs[T any](v *Value) (x T, ok bool) {
	if v == nil || !v.valid {
		return
	}
	x, ok = v.v.(T)
	return
}

// As convert a code address to a function of type T. T must match the code's signature.
func As[T any](a symbol.Addr) (x T) {
	fv := new(uintptr)
	*fv = uintptr(a)
	x = *(*T)(unsafe.Pointer(&fv))
	return
}

// Use create a function to fetch and use symbol on the fly. Panics raised while fetching are
// handed to f as errors.
func Use[T any](e *Executor, sym string) func(func(t T, err error)) {
	return func(f func(t T, err error)) {
		var x T
		defer func() {
			switch y := recover().(type) {
			case nil:
				f(x, nil)
			case error:
				f(x, y)
			default:
				f(x, fmt.Errorf("%v", y))
			}
		}()
		x = As[T](e.MustFetch(sym))
	}
}
