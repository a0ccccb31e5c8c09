// cmd/plugd/main.go
//
// Entry point for the plugd CLI. Subcommands scaffold a project, check and
// print the plugin order, and run the full startup sequence.

package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
