// Package ports defines the core interfaces for the application.
package ports

import (
	"context"
	"io"

	"go.trai.ch/kiln/internal/core/domain"
)

// ExecSpec describes a subprocess to run on behalf of a node body.
type ExecSpec struct {
	// Argv is the command line; Argv[0] is the executable.
	Argv []string
	// Dir is the working directory, project root if empty.
	Dir string
	// Env holds extra environment variables merged over the process env.
	Env map[string]string
	// Stdout and Stderr receive the process output.
	Stdout io.Writer
	Stderr io.Writer
}

// Executor defines the interface for running declared node bodies as
// subprocesses.
//
//go:generate mockgen -source=executor.go -destination=mocks/mock_executor.go -package=mocks
type Executor interface {
	// Execute runs the command to completion and returns its error.
	Execute(ctx context.Context, spec ExecSpec) error

	// StartWorker launches a long-running process and returns a handle that
	// terminates it on Close. The process outlives the ctx used to start it;
	// only Close tears it down.
	StartWorker(ctx context.Context, spec ExecSpec) (domain.WorkerHandle, error)
}
