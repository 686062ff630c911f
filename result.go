package incremental

import (
	"errors"
	"fmt"
	"strings"
)

// ExecutionResult of running an initializer or a wrapper.
type ExecutionResult int

const (
	ExeSuccess ExecutionResult = iota
	ExeFunctionNotCompiled
	ExeUnresolvedSymbols
)

func (r ExecutionResult) String() string {
	switch r {
	case ExeSuccess:
		return "Success"
	case ExeFunctionNotCompiled:
		return "FunctionNotCompiled"
	case ExeUnresolvedSymbols:
		return "UnresolvedSymbols"
	default:
		return fmt.Sprintf("ExecutionResult(%d)", int(r))
	}
}

var (
	// ErrNoBackend occurs when an executor is created without a backend.
	ErrNoBackend = errors.New("no code generation backend")
	// ErrCompile wraps backend emission failures.
	ErrCompile = errors.New("compilation failed")
	// ErrFunctionNotCompiled occurs when an entry point never reached loaded code.
	ErrFunctionNotCompiled = errors.New("function not compiled")
	// ErrNotLoaded occurs when a unit must be loaded for an operation.
	ErrNotLoaded = errors.New("unit not loaded")
	// ErrAlreadyAdded occurs when a unit is added twice.
	ErrAlreadyAdded = errors.New("unit already added")
	// ErrMissingSymbol occurs when can't found a symbol.
	ErrMissingSymbol = errors.New("missing symbol")
	// ErrSelfLink occurs when an executor is registered as its own peer.
	ErrSelfLink = errors.New("executor can't be its own peer")
	// ErrShutdown occurs when an executor is used after Close.
	ErrShutdown = errors.New("executor shut down")
)

// UnresolvedError lists the symbols that stopped an execution.
type UnresolvedError struct {
	Trigger string
	Symbols []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("%s: unresolved symbols: %s", e.Trigger, strings.Join(e.Symbols, ", "))
}

// PanicError is a panic raised by executed code. It is a user code failure, the engine itself
// completed the call.
type PanicError struct {
	Symbol string
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Symbol, e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
