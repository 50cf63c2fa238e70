// Package main provides the liveview CLI.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/liveview/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
