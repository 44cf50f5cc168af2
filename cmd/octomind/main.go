// Package main provides the entry point for the octomind CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Muvon/octomind-sub000/cmd/octomind/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
