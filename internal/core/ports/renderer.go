package ports

import (
	"context"
	"time"
)

// Renderer is the abstraction for output rendering.
// It decouples telemetry collection from presentation logic.
//
//go:generate mockgen -source=renderer.go -destination=mocks/mock_renderer.go -package=mocks
type Renderer interface {
	// Start initializes the renderer and begins its lifecycle.
	Start(ctx context.Context) error

	// Stop signals the renderer to stop accepting new events and flush any
	// buffered output.
	Stop() error

	// Wait blocks until the renderer has fully terminated.
	// For synchronous renderers, this may return immediately.
	Wait() error

	// OnPlanEmit is called when the evaluator has planned the node closure.
	// nodes: all node names in execution order
	// deps: dependency map (node -> list of dependencies)
	// targets: the user-requested nodes
	OnPlanEmit(nodes []string, deps map[string][]string, targets []string)

	// OnNodeStart is called when a node begins execution.
	OnNodeStart(spanID, parentID, name string, startTime time.Time)

	// OnNodeLog is called when a node emits output.
	// data may contain partial lines or ANSI sequences.
	OnNodeLog(spanID string, data []byte)

	// OnNodeComplete is called when a node finishes execution.
	// err is nil if the node succeeded.
	OnNodeComplete(spanID string, endTime time.Time, err error)
}
