// Command vigiecored runs the incident registry daemon.
package main

import (
	"fmt"
	"os"

	"vigiecore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
