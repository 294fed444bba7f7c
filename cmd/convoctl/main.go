package main

import (
	"fmt"
	"os"

	"convodb/internal/cli"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := cli.Execute(version, commit, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
