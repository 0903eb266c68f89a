package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/byrde/scheduler/internal/ingress"
	"github.com/byrde/scheduler/internal/registry"
)

// runSchedule implements the `schedule` subcommand: read a schedule
// request, validate and insert it directly against the configured
// database, print the assigned (task_name, task_instance), exit.
func runSchedule(args []string) error {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
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
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil {
			fmt.Fprintln(os.Stderr, "schedule: close:", cerr)
		}
	}()

	reg := registry.New(a.store)
	taskName, taskInstance, err := reg.Submit(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("%s\t%s\n", taskName, taskInstance)
	return nil
}

func readInput(file string) ([]byte, error) {
	if file == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
}
