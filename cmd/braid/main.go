package main

import (
	"fmt"
	"os"

	"github.com/roach88/braid/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "braid: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
