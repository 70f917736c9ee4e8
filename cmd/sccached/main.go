// Package main provides the entry point for the sccached daemon.
package main

import (
	"fmt"
	"os"

	"github.com/Sumatoshi-tech/sccached/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
