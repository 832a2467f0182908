// The main package for the hellowork-crawler executable.
package main

import (
	"github.com/JakeFAU/hellowork-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
