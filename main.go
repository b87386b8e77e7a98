// The main package for the docpress executable.
package main

import (
	"github.com/docpress/docpress/cmd"
)

func main() {
	cmd.Execute()
}
