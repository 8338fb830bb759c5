// Package main is the entry point for the lumo media server.
package main

import (
	"os"

	"github.com/lumoware/lumo/cmd/lumo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
