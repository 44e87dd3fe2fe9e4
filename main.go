package main

import (
	"os"

	"github.com/oeistools/oeissync/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
