package main

import (
	"os"

	"github.com/ryandielhenn/clustercounter/internal/cli"
)

// Set with -ldflags "-X main.version=... -X main.gitSHA=...".
var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	if err := cli.Execute(cli.BuildInfo{Version: version, GitSHA: gitSHA}); err != nil {
		os.Exit(1)
	}
}
