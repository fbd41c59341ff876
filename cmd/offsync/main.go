// Command offsync queues entity mutations offline and syncs them to a remote.
package main

import (
	"os"

	"github.com/roach88/offsync/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
