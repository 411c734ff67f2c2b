package main

import (
	"os"

	"github.com/kebairia/portalbackup/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
