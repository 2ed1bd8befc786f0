// Command orbit validates component descriptors, plays scenarios against
// them, and serves them on a live host loop.
package main

import (
	"fmt"
	"os"

	"github.com/go-orbit/orbit/cmd/orbit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
