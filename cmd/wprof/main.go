// Package main is the entry of the wprof command.
package main

import (
	"github.com/tebeka/atexit"

	"github.com/kusoof/wprof/cmd/wprof/cmd"
)

func main() {
	cmd.Execute()
	atexit.Exit(0)
}
