package main

import "unsafe"

var state = "c"

func note(s string)

func dtor(p unsafe.Pointer) {
	note(*(*string)(p))
}

func Setup(c interface {
	AtExit(func(unsafe.Pointer), unsafe.Pointer)
	Return(any)
}) {
	c.AtExit(dtor, unsafe.Pointer(&state))
}
