// Package main provides aerodb, the operator CLI for the durability core.
package main

import (
	"os"

	"github.com/aerodb/aerodb/internal/operator"
)

func main() {
	os.Exit(operator.Run(os.Stdout, os.Stderr, os.Args[1:]))
}
