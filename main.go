package main

import "github.com/serverlessresearch/cloudfetch/cmd"

// cloudfetch is a single executable with one subcommand per kind of fetch.
func main() {
	cmd.Execute()
}
