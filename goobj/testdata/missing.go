package main

func absent() int

func Use() int {
	return absent() + 1
}
