//go:build !((darwin || freebsd || linux || netbsd) && !android)

package dylib

const defaultHandle = 0

func open(string) (uintptr, error) { return 0, ErrUnsupported }

func lookup(uintptr, string) (uintptr, bool) { return 0, false }

func closeLib(uintptr) error { return ErrUnsupported }
