// Package main is the single-binary entrypoint for Sentinel.
package main

import "github.com/sentinel-ci/sentinel/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
