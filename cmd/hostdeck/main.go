// Package main is the entry point for the hostdeck CLI and API server.
package main

import (
	"os"

	"github.com/tOgg1/hostdeck/internal/cli"
)

// Version information (set by goreleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersion(version, commit, date)
	os.Exit(cli.Execute())
}
