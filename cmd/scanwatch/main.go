// Command scanwatch is the entry point for the scanwatch daemon and its
// client commands.
package main

import (
	"github.com/scanwatch/scanwatch/cmd/cli"
)

func main() {
	cli.Execute()
}
