// Package main is the entry point for the shelf CLI binary.
package main

import (
	"os"

	"shelfstore/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
