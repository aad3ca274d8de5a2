// Package main is the sqlsense command.
package main

import (
	"os"

	"github.com/leapstack-labs/sqlsense/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
