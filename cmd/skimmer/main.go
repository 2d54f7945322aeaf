package main

import (
	"os"

	"github.com/skimmer-dev/skimmer/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
