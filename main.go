// Package main is the entry point for the mpswitch multipath switch.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/mpswitch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
