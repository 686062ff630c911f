//go:build (darwin || freebsd || linux || netbsd) && !android

package dylib

import (
	"fmt"

	"github.com/ebitengine/purego"
)

const defaultHandle = purego.RTLD_DEFAULT

func open(path string) (uintptr, error) {
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	return h, nil
}

func lookup(handle uintptr, name string) (uintptr, bool) {
	p, err := purego.Dlsym(handle, name)
	if err != nil || p == 0 {
		return 0, false
	}
	return p, true
}

func closeLib(handle uintptr) error {
	return purego.Dlclose(handle)
}
