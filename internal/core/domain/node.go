// Package domain contains the core domain models for the build graph.
package domain

import (
	"context"
	"encoding/json"
	"io"
)

// NodeKind classifies how the evaluator treats a node.
type NodeKind uint8

const (
	// KindTarget is a pure computation whose result is cached by fingerprint.
	KindTarget NodeKind = iota
	// KindCommand is re-executed on every evaluation, never cached.
	KindCommand
	// KindWorker produces a long-lived handle reused across evaluations.
	KindWorker
)

// String returns the lowercase name of the kind.
func (k NodeKind) String() string {
	switch k {
	case KindTarget:
		return "target"
	case KindCommand:
		return "command"
	case KindWorker:
		return "worker"
	default:
		return "unknown"
	}
}

// WorkerHandle is a live stateful resource created by a Worker node's body.
// It is owned by the evaluation session and closed only when the worker's
// dependency fingerprint changes or the session is torn down.
type WorkerHandle interface {
	Close() error
}

// BodyCall carries everything a node body may read during execution.
type BodyCall struct {
	// Node is the identity of the node being executed.
	Node InternedString
	// Dest is the node's exclusive output directory. It exists before the
	// body runs and is never shared with another node.
	Dest string
	// Deps maps each declared dependency to its resolved result.
	Deps map[InternedString]Result
	// Session is the evaluation session handle. Command bodies may use it to
	// evaluate other nodes or introspect the graph. Nil for Targets and
	// Workers, whose bodies must stay pure.
	Session Evaluator
	// Stdout and Stderr receive the body's output.
	Stdout io.Writer
	Stderr io.Writer
}

// BodyFunc is the computation of a Target or Command node. The returned
// value must be JSON so Target results can be persisted verbatim.
type BodyFunc func(ctx context.Context, call *BodyCall) (json.RawMessage, error)

// StartFunc creates the live handle of a Worker node.
type StartFunc func(ctx context.Context, call *BodyCall) (WorkerHandle, error)

// Evaluator is the session handle passed into Command bodies. It reuses the
// outer session's cache and worker registry; evaluating a node that is
// already in progress on the call stack fails with ErrCycleDetected.
type Evaluator interface {
	Evaluate(ctx context.Context, names []InternedString) (Report, error)
	Graph() *Graph
}

// Node is a single vertex in the build graph. Identity is the dot-separated
// path in the module tree and is stable across runs; the dependency set is
// fixed once declared.
type Node struct {
	Name InternedString
	Kind NodeKind
	// Dependencies are identities of nodes this node reads.
	Dependencies []InternedString
	// Inputs are source paths or globs, relative to the project root, whose
	// content feeds the node's fingerprint.
	Inputs []InternedString
	// Sig identifies the node's computation logic. Changing the body (for
	// declared nodes: its command line or environment) changes Sig and
	// therefore invalidates the cache even with identical inputs.
	Sig string
	// Body runs Target and Command nodes.
	Body BodyFunc
	// Start runs Worker nodes.
	Start StartFunc
}
