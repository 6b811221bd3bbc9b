// The main package for the snowball crawler executable.
package main

import (
	"github.com/JakeFAU/snowball-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
