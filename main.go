// The main package for the multisite-scraper executable.
package main

import (
	"github.com/JakeFAU/multisite-scraper/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
