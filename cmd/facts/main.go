// Command facts maintains incrementally rebuilt fact collections.
package main

import (
	"os"

	"github.com/mesh-intelligence/facts/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
