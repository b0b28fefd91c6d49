package main

import (
	"os"

	"tarediiran-industries.com/transit-tracker/internal/probe"
)

func main() {
	os.Exit(probe.Main(os.Args[0], os.Args[1:], os.Stdout, os.Stderr))
}
