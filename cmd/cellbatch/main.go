package main

import (
	"os"

	"github.com/example/cellbatch/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
