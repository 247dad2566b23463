// Package main is the single-binary entrypoint for Lumen.
package main

import "github.com/lumen-network/lumen/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
