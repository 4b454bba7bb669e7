package domain

import (
	"encoding/json"
	"errors"
	"time"

	"go.trai.ch/zerr"
)

// NodeStatus is the per-node outcome of an evaluation.
type NodeStatus string

const (
	// StatusOK indicates the body executed successfully.
	StatusOK NodeStatus = "ok"
	// StatusCached indicates a Target was served from the cache store.
	StatusCached NodeStatus = "cached"
	// StatusReused indicates a Worker handle was reused without re-starting.
	StatusReused NodeStatus = "reused"
	// StatusFailed indicates the body returned an error.
	StatusFailed NodeStatus = "failed"
	// StatusSkipped indicates the node did not run because an upstream
	// dependency failed or the evaluation was cancelled.
	StatusSkipped NodeStatus = "skipped"
)

// Result is the resolved output of a node, as seen by its dependents.
type Result struct {
	// Value is the body's JSON result. Empty for Workers.
	Value json.RawMessage
	// OutDir is the node's output directory, empty if the node wrote nothing.
	OutDir string
	// Fingerprint identifies this result for downstream fingerprinting. For
	// Workers it is the creation fingerprint of the live handle.
	Fingerprint string
	// Handle is the live worker handle, set only for Worker nodes.
	Handle WorkerHandle
}

// NodeResult pairs a node's status with its result or error.
type NodeResult struct {
	Status NodeStatus
	Result Result
	Err    error
}

// Failed reports whether the node did not produce a usable result.
func (r *NodeResult) Failed() bool {
	return r.Status == StatusFailed || r.Status == StatusSkipped
}

// Report maps every evaluated node to its outcome. Evaluate always returns a
// complete report for the requested closure; a single node failure never
// aborts the surrounding evaluation.
type Report map[InternedString]*NodeResult

// Failed returns the names of all failed or skipped nodes.
func (r Report) Failed() []InternedString {
	var failed []InternedString
	for name, res := range r {
		if res.Failed() {
			failed = append(failed, name)
		}
	}
	return failed
}

// Err joins the errors of all failed nodes, nil if everything succeeded.
func (r Report) Err() error {
	var errs error
	for name, res := range r {
		if res.Err != nil {
			errs = errors.Join(errs, zerr.With(res.Err, "node", name.String()))
		}
	}
	return errs
}

// CacheEntry is one persisted record of a successful Target execution.
type CacheEntry struct {
	NodeName    string          `json:"node"`
	Fingerprint string          `json:"fingerprint"`
	Value       json.RawMessage `json:"value,omitempty"`
	OutDir      string          `json:"out_dir,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}
