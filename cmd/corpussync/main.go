// Command corpussync keeps a local PLOS corpus in sync with the registry.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/corpussync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
