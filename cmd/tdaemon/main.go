// tdaemon runs a command whenever files under a directory change.
package main

import (
	"os"

	"github.com/hupe1980/tdaemon/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
