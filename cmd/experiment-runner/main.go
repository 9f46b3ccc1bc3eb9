// Package main provides the entry point for the experiment-runner CLI.
package main

func main() {
	Execute()
}
