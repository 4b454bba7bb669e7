// Package evaluator implements the memoizing build-graph evaluation session.
//
// A Session owns the persistent Target cache, the live Worker registry and
// the per-node single-flight table. It is safe for concurrent use; racing
// Evaluate calls that touch the same node share a single execution.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime"
	"slices"
	"strings"
	"sync"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// Session is the evaluation session. It implements domain.Evaluator and is
// handed to Command bodies for self-referential evaluation.
type Session struct {
	graph  *domain.Graph
	store  ports.CacheStore
	hasher ports.InputHasher
	tracer ports.Tracer
	logger ports.Logger

	parallelism int
	noCache     bool

	mu       sync.Mutex
	workers  map[domain.InternedString]*workerEntry
	inflight map[domain.InternedString]*flight
	closed   bool
}

// workerEntry is a live worker handle together with the fingerprint it was
// created under. A dependency change produces a new fingerprint and retires
// the handle.
type workerEntry struct {
	handle      domain.WorkerHandle
	fingerprint string
}

// flight is one in-progress node execution shared by racing Evaluate calls.
type flight struct {
	done chan struct{}
	res  *domain.NodeResult
}

// Option configures a Session.
type Option func(*Session)

// WithParallelism caps the number of node bodies running concurrently.
func WithParallelism(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// WithNoCache bypasses the Target cache for every evaluation in the session.
// Results are still written back so later sessions start warm.
func WithNoCache(noCache bool) Option {
	return func(s *Session) {
		s.noCache = noCache
	}
}

// NewSession creates a Session over the given graph. The graph must already
// be validated.
func NewSession(
	graph *domain.Graph,
	store ports.CacheStore,
	hasher ports.InputHasher,
	tracer ports.Tracer,
	logger ports.Logger,
	opts ...Option,
) *Session {
	s := &Session{
		graph:       graph,
		store:       store,
		hasher:      hasher,
		tracer:      tracer,
		logger:      logger,
		parallelism: runtime.NumCPU(),
		workers:     make(map[domain.InternedString]*workerEntry),
		inflight:    make(map[domain.InternedString]*flight),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Graph returns the graph this session evaluates.
func (s *Session) Graph() *domain.Graph {
	return s.graph
}

// Close tears down the session, closing every live worker handle. The
// session cannot be used afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	workers := s.workers
	s.workers = make(map[domain.InternedString]*workerEntry)
	s.mu.Unlock()

	// Deterministic teardown order keeps logs stable.
	names := slices.SortedFunc(maps.Keys(workers), func(a, b domain.InternedString) int {
		return strings.Compare(a.String(), b.String())
	})

	var errs error
	for _, name := range names {
		if err := workers[name].handle.Close(); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// isClosed reports whether Close has been called.
func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// evaluateShared runs the node at most once across racing Evaluate calls.
// Late arrivals block until the first execution completes and adopt its
// result.
func (s *Session) evaluateShared(
	ctx context.Context,
	name domain.InternedString,
	deps map[domain.InternedString]domain.Result,
) *domain.NodeResult {
	s.mu.Lock()
	if f, ok := s.inflight[name]; ok {
		s.mu.Unlock()
		select {
		case <-f.done:
			return f.res
		case <-ctx.Done():
			return &domain.NodeResult{Status: domain.StatusSkipped, Err: domain.ErrEvaluationCancelled}
		}
	}
	f := &flight{done: make(chan struct{})}
	s.inflight[name] = f
	s.mu.Unlock()

	f.res = s.evaluateNode(ctx, name, deps)

	s.mu.Lock()
	delete(s.inflight, name)
	s.mu.Unlock()
	close(f.done)

	return f.res
}

// acquireWorker returns the live handle for the node, reusing the existing
// one when its creation fingerprint still matches and recreating it
// otherwise.
func (s *Session) acquireWorker(
	ctx context.Context,
	span ports.Span,
	node *domain.Node,
	call *domain.BodyCall,
	fp string,
) *domain.NodeResult {
	s.mu.Lock()
	entry, ok := s.workers[node.Name]
	if ok && entry.fingerprint == fp {
		s.mu.Unlock()
		span.SetAttribute("kiln.worker_reused", true)
		return &domain.NodeResult{
			Status: domain.StatusReused,
			Result: domain.Result{Fingerprint: fp, Handle: entry.handle},
		}
	}
	if ok {
		delete(s.workers, node.Name)
	}
	s.mu.Unlock()

	if ok {
		// Dependencies changed since the handle was created. Retire it before
		// starting the replacement.
		if err := entry.handle.Close(); err != nil {
			s.logger.Warn(fmt.Sprintf("failed to stop worker %s: %v", node.Name.String(), err))
		}
	}

	handle, err := node.Start(withInProgress(ctx, node.Name), call)
	if err != nil {
		return failedResult(span, zerr.Wrap(err, domain.ErrWorkerStartFailed.Error()))
	}

	s.mu.Lock()
	s.workers[node.Name] = &workerEntry{handle: handle, fingerprint: fp}
	s.mu.Unlock()

	return &domain.NodeResult{
		Status: domain.StatusOK,
		Result: domain.Result{Fingerprint: fp, Handle: handle},
	}
}
