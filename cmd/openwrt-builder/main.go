package main

import (
	"os"

	"github.com/openwrt-builder/builder/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
