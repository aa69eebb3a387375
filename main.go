package main

import (
	"os"

	"github.com/pocketcode/chatcore/internal/cli"
)

func main() {
	code, _ := cli.Run(os.Args, nil)
	os.Exit(code)
}
