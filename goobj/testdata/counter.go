package main

import "strings"

type label string

const prefix = "count:"

var (
	Counter int
	names   []string
)

func Inc() int {
	Counter++
	return Counter
}

func (l label) Upper() string {
	return strings.ToUpper(string(l))
}

func (l *label) Reset() {
	*l = prefix
}
