// Command prodigy runs fault-tolerant MapReduce workflows: fanning a unit
// of work out across bounded-parallel agents, each in its own isolated
// workspace, and checkpointing progress so an interrupted job can be
// resumed exactly where it left off.
package main

import (
	"os"

	"github.com/corvusmr/prodigy/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
