package main

import (
	"os"
	_ "time/tzdata"

	"eventcal/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
