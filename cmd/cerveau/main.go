package main

import (
	"fmt"
	"os"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
