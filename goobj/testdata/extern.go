package main

func Inc() int

func Twice() int {
	Inc()
	return Inc()
}
