package main

import (
	"os"

	"market-alerts/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
