package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"remediator/internal/cli"
)

// Set at build time, e.g. -ldflags "-X main.version=v1.2.0".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// A missing .env is normal; anything else is worth a warning.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	cli.SetBuildInfo(version, commit, date)
	cli.Execute()
}
