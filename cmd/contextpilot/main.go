// Command contextpilot is the engine's CLI entrypoint: it wires C1-C9 and
// the tool modules together and exposes them as cobra subcommands
// (run/console serve/doctor/version), per spec.md §4.9.
package main

import "os"

func main() {
	os.Exit(Execute())
}
