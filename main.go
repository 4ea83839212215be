// The main package for the newsagg executable.
package main

import (
	"github.com/antonlok/aggregator-threadpool/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
