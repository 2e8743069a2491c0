// The main package for the places-scraper executable.
package main

import (
	"github.com/JakeFAU/places-scraper/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
