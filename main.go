// Package main is the entry point for logsentry.
package main

import (
	"fmt"
	"os"

	"logsentry/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
