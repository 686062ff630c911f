/*
Package incremental is an incremental compile and execute engine for go code fragments.

Code arrives as a sequence of compilation units. Each unit is emitted by a backend, registered
under a revocable handle, linked lazily when one of its symbols is first needed, initialized
once and later unloaded while the executor keeps running.

# Backends

  - [github.com/ZenLiuCN/incremental/goobj] compiles units with `go tool compile` and maps the
    objects with [goloader].
  - [github.com/ZenLiuCN/incremental/backend/native] binds units to functions and variables
    already compiled into the host executable.

# Symbol resolution

Names are resolved in a fixed order: symbols injected by [Executor.ReplaceSymbol], symbols of
loaded units, the host process (shared libraries first, then the process table), and finally
generators such as peer executors linked by [Executor.RegisterExternalIncrementalExecutor].
Entry points never come from the host process.

# Calling convention

Initializers and wrappers have the type [Entry]. They receive a [Call] to return a value and to
register at-exit callbacks bound to their unit.

# Notes

 1. Symbol addresses must be used right after fetching, cast with [As]. A fetched address is
    invalid once its unit is unloaded.
 2. Unloading a unit other units linked against is the caller's responsibility unless
    strict_unload is configured.
 3. The goobj backend needs a prepared go sdk, see `incr prepare`.

[goloader]: https://github.com/pkujhd/goloader
*/
package incremental
