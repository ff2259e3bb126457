// Package main is the entry point for the nbkernel command.
package main

import (
	"context"
	"os"

	"github.com/roach88/nbkernel/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
