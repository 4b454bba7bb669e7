package domain

import "go.trai.ch/zerr"

var (
	// ErrNodeAlreadyExists is returned when adding a node whose identity is taken.
	ErrNodeAlreadyExists = zerr.New("node already exists")

	// ErrMissingDependency is returned when a node references a dependency that is not in the graph.
	ErrMissingDependency = zerr.New("missing dependency")

	// ErrCycleDetected is returned when the dependency graph is not acyclic.
	ErrCycleDetected = zerr.New("cycle detected")

	// ErrNodeNotFound is returned when a requested node is not in the graph.
	ErrNodeNotFound = zerr.New("node not found")

	// ErrNoTargetsSpecified is returned when an evaluation request names no nodes.
	ErrNoTargetsSpecified = zerr.New("no targets specified")

	// ErrUpstreamFailed is returned in a node's result slot when a dependency
	// failed and the node was skipped.
	ErrUpstreamFailed = zerr.New("skipped: upstream dependency failed")

	// ErrEvaluationCancelled is returned in a node's result slot when the
	// evaluation was cancelled before the node could run.
	ErrEvaluationCancelled = zerr.New("skipped: evaluation cancelled")

	// ErrSessionClosed is returned when evaluating on a closed session.
	ErrSessionClosed = zerr.New("session closed")

	// ErrNodeExecution is returned when a node body fails.
	ErrNodeExecution = zerr.New("node execution failed")

	// ErrWorkerStartFailed is returned when a Worker node's Start fails.
	ErrWorkerStartFailed = zerr.New("worker start failed")

	// ErrMissingBody is returned when a Target or Command node has no body.
	ErrMissingBody = zerr.New("node has no body")

	// ErrMissingStart is returned when a Worker node has no start function.
	ErrMissingStart = zerr.New("worker has no start function")

	// ErrUnknownTrait is returned when a module uses an undeclared trait.
	ErrUnknownTrait = zerr.New("unknown trait")

	// ErrInvalidNodeName is returned when a node name contains invalid characters.
	ErrInvalidNodeName = zerr.New("invalid node name")

	// ErrInvalidNodeKind is returned when a declared kind is not target, command or worker.
	ErrInvalidNodeKind = zerr.New("invalid node kind, expected 'target', 'command' or 'worker'")

	// ErrStoreCreateFailed is returned when the cache store directory cannot be created.
	ErrStoreCreateFailed = zerr.New("failed to create cache store directory")

	// ErrStoreWriteFailed is returned when a cache entry cannot be written.
	ErrStoreWriteFailed = zerr.New("failed to write cache entry")

	// ErrStoreMarshalFailed is returned when a cache entry cannot be marshaled.
	ErrStoreMarshalFailed = zerr.New("failed to marshal cache entry")

	// ErrConfigReadFailed is returned when the kilnfile cannot be read.
	ErrConfigReadFailed = zerr.New("failed to read config file")

	// ErrConfigParseFailed is returned when the kilnfile cannot be parsed.
	ErrConfigParseFailed = zerr.New("failed to parse config file")

	// ErrConfigNotFound is returned when no kilnfile is found walking up from cwd.
	ErrConfigNotFound = zerr.New("could not find kiln.yaml")

	// ErrEvaluationFailed is returned when an evaluation reports failed nodes.
	ErrEvaluationFailed = zerr.New("evaluation failed")

	// ErrInputResolutionFailed is returned when a node's source inputs cannot be resolved.
	ErrInputResolutionFailed = zerr.New("failed to resolve inputs")

	// ErrInputHashFailed is returned when hashing a node's source inputs fails.
	ErrInputHashFailed = zerr.New("failed to hash inputs")

	// ErrInputNotFound is returned when a declared input path matches nothing.
	ErrInputNotFound = zerr.New("input not found")

	// ErrDestCreateFailed is returned when a node's output directory cannot be created.
	ErrDestCreateFailed = zerr.New("failed to create output directory")

	// ErrWatcherStartFailed is returned when the file system watcher cannot start.
	ErrWatcherStartFailed = zerr.New("failed to start watcher")
)
