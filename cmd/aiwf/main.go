// Package main provides the entry point for the aiwf CLI.
package main

import (
	"os"

	"github.com/aiwf/aiwf/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
