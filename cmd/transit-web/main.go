package main

import (
	"os"

	"tarediiran-industries.com/transit-tracker/internal/web/transit_web"
)

func main() {
	os.Exit(transit_web.Main(os.Args[0], os.Args[1:], os.Stdout, os.Stderr))
}
