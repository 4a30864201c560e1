package runner

import (
	"context"
	"time"
)

// Runner executes a command list on a target as one compound command.
type Runner interface {
	// Run joins commands with " && " and executes the result once. An empty
	// list is skipped without touching the target. A non-zero exit is
	// reported in the Outcome; err is reserved for transport failures.
	Run(ctx context.Context, commands []string) (Outcome, error)
}

// Outcome is the result of one Run.
type Outcome struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Skipped  bool
	Duration time.Duration
}

// Succeeded reports whether the command ran and exited 0.
func (o Outcome) Succeeded() bool {
	return !o.Skipped && o.ExitCode == 0
}
