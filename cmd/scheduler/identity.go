package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// workerIdentity returns a worker ID unique enough to distinguish
// concurrent processes on the same or different hosts: hostname, pid,
// and a short random suffix.
func workerIdentity() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8]), nil
}
