// Package main is the entry point for the ralph CLI. Ralph runs a coding
// agent in a budgeted loop against a repository, handling rate limits,
// transient API errors, and operator control files along the way.
package main

import (
	"fmt"
	"os"

	"github.com/tpott/diy-ralph/internal/cli"
)

// Version information (set by goreleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := cli.Execute(version, commit, date); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
