// The main package for the registry executable.
package main

import (
	"github.com/JakeFAU/crawl-registry/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
