// Command gezellig runs a shared now-playing queue for a room.
package main

import (
	"fmt"
	"os"

	"github.com/williammartin/gezellig/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
