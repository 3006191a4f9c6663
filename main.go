// The main package for the placescraper executable.
package main

import (
	"github.com/JakeFAU/places-scraper/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
