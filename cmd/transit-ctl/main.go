package main

import (
	"os"

	"tarediiran-industries.com/transit-tracker/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
