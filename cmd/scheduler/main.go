// Command scheduler is the single binary exposing the `start`, `schedule`,
// `parse`, and `openapi` subcommands.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "start":
		err = runStart(os.Args[2:])
	case "schedule":
		err = runSchedule(os.Args[2:])
	case "parse":
		err = runParse(os.Args[2:])
	case "openapi":
		err = runOpenAPI(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: scheduler <start|schedule|parse|openapi> [flags]")
}
