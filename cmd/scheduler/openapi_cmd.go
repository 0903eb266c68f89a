package main

import (
	"fmt"

	"github.com/byrde/scheduler/internal/openapi"
)

// runOpenAPI implements the `openapi` subcommand: emit the OpenAPI 3.0
// document describing the Ingress API to stdout.
func runOpenAPI(_ []string) error {
	fmt.Print(openapi.Document)
	return nil
}
