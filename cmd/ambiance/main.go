// Package main provides the entry point for the ambiance CLI.
package main

import (
	"os"

	"github.com/sbarron/ambiance/cmd/ambiance/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
