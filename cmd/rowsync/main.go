// Command rowsync runs and inspects multi-writer replicas of SQLite tables.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/rowsync/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "rowsync:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
