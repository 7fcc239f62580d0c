package main

import (
	"os"

	"github.com/malbeclabs/askdata/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
