// Command osmupdate keeps OpenStreetMap files up to date from a replication
// feed.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/osmupdate/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "osmupdate:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
