// Command bauplan lists and inspects a Bauplan data catalog.
package main

import (
	"os"

	"github.com/bauplanlabs/bauplan-go/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
