// Command bender is the engine's entry point: it wires
// internal/interfaces/cli's cobra root command into main: it runs the
// command tree and exits with status 1 if it returns an error.
package main

import (
	"fmt"
	"os"

	"github.com/benderhq/engine/internal/interfaces/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
