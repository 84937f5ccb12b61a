package main

import (
	"os"

	"danmud/internal/cli"
)

func main() { os.Exit(cli.Main()) }
