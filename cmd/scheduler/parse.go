package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/byrde/scheduler/internal/ingress"
	"github.com/byrde/scheduler/internal/registry"
)

// runParse implements the `parse` subcommand: validate a schedule
// request with no database access, exit 0 on valid, 1 on invalid with
// the validation detail on stderr.
func runParse(args []string) error {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	file := fs.String("file", "", "path to a schedule-request JSON file; defaults to stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	body, err := readInput(*file)
	if err != nil {
		return err
	}

	req, err := ingress.DecodeRequest(body)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := registry.Validate(req, time.Now().UTC()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println("ok")
	return nil
}
