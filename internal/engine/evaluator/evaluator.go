package evaluator

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// Evaluate resolves the requested nodes and their transitive dependencies
// and returns a complete report for the closure. A node body failure marks
// its dependents as skipped but never aborts the evaluation; independent
// subgraphs still run. The error return covers request problems only
// (unknown node, empty request, re-entrant cycle), never body failures.
func (s *Session) Evaluate(ctx context.Context, names []domain.InternedString) (domain.Report, error) {
	if s.isClosed() {
		return nil, domain.ErrSessionClosed
	}
	if len(names) == 0 {
		return nil, domain.ErrNoTargetsSpecified
	}
	for _, name := range names {
		if _, ok := s.graph.GetNode(name); !ok {
			return nil, zerr.With(domain.ErrNodeNotFound, "node", name.String())
		}
	}

	closure := s.collectClosure(names)

	// A nested Evaluate that reaches back into a node currently on the call
	// stack would deadlock on its own result.
	inProgress := inProgressSet(ctx)
	for name := range closure {
		if inProgress[name] {
			return nil, zerr.With(domain.ErrCycleDetected, "node", name.String())
		}
	}

	s.emitPlan(ctx, closure)

	state := s.newEvalState(ctx, closure)
	state.run()
	return state.report, nil
}

// collectClosure returns the requested nodes plus their transitive
// dependencies, breadth-first.
func (s *Session) collectClosure(names []domain.InternedString) map[domain.InternedString]bool {
	closure := make(map[domain.InternedString]bool, len(names))
	queue := make([]domain.InternedString, len(names))
	copy(queue, names)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if closure[current] {
			continue
		}
		closure[current] = true

		node, _ := s.graph.GetNode(current)
		for _, dep := range node.Dependencies {
			if !closure[dep] {
				queue = append(queue, dep)
			}
		}
	}

	return closure
}

// emitPlan publishes the planned closure in execution order.
func (s *Session) emitPlan(ctx context.Context, closure map[domain.InternedString]bool) {
	planned := make([]string, 0, len(closure))
	for node := range s.graph.Walk() {
		if closure[node.Name] {
			planned = append(planned, node.Name.String())
		}
	}
	s.tracer.EmitPlan(ctx, planned)
}

type nodeOutcome struct {
	name domain.InternedString
	res  *domain.NodeResult
}

// evalState is the per-Evaluate ready-queue scheduler. Everything except the
// node goroutines runs on the calling goroutine.
type evalState struct {
	s        *Session
	ctx      context.Context
	closure  map[domain.InternedString]bool
	inDegree map[domain.InternedString]int
	ready    []domain.InternedString
	active   int
	results  chan nodeOutcome
	report   domain.Report
}

func (s *Session) newEvalState(ctx context.Context, closure map[domain.InternedString]bool) *evalState {
	inDegree := make(map[domain.InternedString]int, len(closure))
	var ready []domain.InternedString

	for name := range closure {
		node, _ := s.graph.GetNode(name)
		degree := 0
		for _, dep := range node.Dependencies {
			if closure[dep] {
				degree++
			}
		}
		inDegree[name] = degree
		if degree == 0 {
			ready = append(ready, name)
		}
	}

	return &evalState{
		s:        s,
		ctx:      ctx,
		closure:  closure,
		inDegree: inDegree,
		ready:    ready,
		results:  make(chan nodeOutcome, s.parallelism),
		report:   make(domain.Report, len(closure)),
	}
}

func (st *evalState) run() {
	for !st.isDone() {
		st.schedule()

		if st.isDone() {
			break
		}

		if st.ctx.Err() != nil {
			if st.active == 0 {
				break
			}
			// Cancelled with bodies still running. Drain without the Done
			// case so the loop does not spin.
			st.handleOutcome(<-st.results)
			continue
		}

		select {
		case out := <-st.results:
			st.handleOutcome(out)
		case <-st.ctx.Done():
		}
	}

	// Whatever never ran was cut off by cancellation. Upstream failures were
	// already marked when the failure surfaced.
	for name := range st.closure {
		if _, ok := st.report[name]; !ok {
			st.report[name] = &domain.NodeResult{
				Status: domain.StatusSkipped,
				Err:    domain.ErrEvaluationCancelled,
			}
		}
	}
}

func (st *evalState) isDone() bool {
	return st.active == 0 && len(st.ready) == 0
}

func (st *evalState) schedule() {
	for len(st.ready) > 0 && st.active < st.s.parallelism && st.ctx.Err() == nil {
		name := st.ready[0]
		st.ready = st.ready[1:]
		st.active++

		deps := st.depResults(name)
		go func() {
			st.results <- nodeOutcome{name: name, res: st.s.evaluateShared(st.ctx, name, deps)}
		}()
	}
}

// depResults snapshots the resolved results of the node's dependencies. All
// of them completed successfully or the node would not be ready.
func (st *evalState) depResults(name domain.InternedString) map[domain.InternedString]domain.Result {
	node, _ := st.s.graph.GetNode(name)
	if len(node.Dependencies) == 0 {
		return nil
	}
	deps := make(map[domain.InternedString]domain.Result, len(node.Dependencies))
	for _, dep := range node.Dependencies {
		if res, ok := st.report[dep]; ok {
			deps[dep] = res.Result
		}
	}
	return deps
}

func (st *evalState) handleOutcome(out nodeOutcome) {
	st.active--
	st.report[out.name] = out.res

	if out.res.Failed() {
		st.skipDependents(out.name)
		return
	}

	for _, dep := range st.s.graph.Dependents(out.name) {
		if !st.closure[dep] {
			continue
		}
		if _, done := st.report[dep]; done {
			continue
		}
		st.inDegree[dep]--
		if st.inDegree[dep] == 0 {
			st.ready = append(st.ready, dep)
		}
	}
}

// skipDependents transitively marks everything downstream of a failed node
// as skipped.
func (st *evalState) skipDependents(name domain.InternedString) {
	for _, dep := range st.s.graph.Dependents(name) {
		if !st.closure[dep] {
			continue
		}
		if _, done := st.report[dep]; done {
			continue
		}
		st.report[dep] = &domain.NodeResult{
			Status: domain.StatusSkipped,
			Err:    zerr.With(domain.ErrUpstreamFailed, "upstream", name.String()),
		}
		st.skipDependents(dep)
	}
}

// evaluateNode executes one node according to its kind.
func (s *Session) evaluateNode(
	ctx context.Context,
	name domain.InternedString,
	deps map[domain.InternedString]domain.Result,
) *domain.NodeResult {
	node, _ := s.graph.GetNode(name)

	ctx, span := s.tracer.Start(ctx, name.String())
	defer span.End()

	fp, err := s.fingerprint(&node, deps)
	if err != nil {
		return failedResult(span, err)
	}

	switch node.Kind {
	case domain.KindTarget:
		return s.evaluateTarget(ctx, span, &node, deps, fp)
	case domain.KindCommand:
		return s.evaluateCommand(ctx, span, &node, deps, fp)
	case domain.KindWorker:
		return s.evaluateWorker(ctx, span, &node, deps, fp)
	default:
		return failedResult(span, zerr.With(domain.ErrInvalidNodeKind, "node", name.String()))
	}
}

func (s *Session) evaluateTarget(
	ctx context.Context,
	span ports.Span,
	node *domain.Node,
	deps map[domain.InternedString]domain.Result,
	fp string,
) *domain.NodeResult {
	if !s.noCache {
		entry, err := s.store.Lookup(s.graph.Root(), node.Name.String(), fp)
		if err != nil {
			return failedResult(span, err)
		}
		if entry != nil {
			span.SetAttribute("kiln.cached", true)
			return &domain.NodeResult{
				Status: domain.StatusCached,
				Result: domain.Result{Value: entry.Value, OutDir: entry.OutDir, Fingerprint: fp},
			}
		}
	}

	value, dest, err := s.runBody(ctx, span, node, deps, nil)
	if err != nil {
		return failedResult(span, zerr.Wrap(err, domain.ErrNodeExecution.Error()))
	}

	if putErr := s.store.Put(s.graph.Root(), domain.CacheEntry{
		NodeName:    node.Name.String(),
		Fingerprint: fp,
		Value:       value,
		OutDir:      dest,
		Timestamp:   time.Now(),
	}); putErr != nil {
		// A failed write costs a rebuild next session, not this evaluation.
		s.logger.Warn(fmt.Sprintf("failed to cache result of %s: %v", node.Name.String(), putErr))
	}

	return &domain.NodeResult{
		Status: domain.StatusOK,
		Result: domain.Result{Value: value, OutDir: dest, Fingerprint: fp},
	}
}

func (s *Session) evaluateCommand(
	ctx context.Context,
	span ports.Span,
	node *domain.Node,
	deps map[domain.InternedString]domain.Result,
	fp string,
) *domain.NodeResult {
	value, dest, err := s.runBody(ctx, span, node, deps, s)
	if err != nil {
		return failedResult(span, zerr.Wrap(err, domain.ErrNodeExecution.Error()))
	}
	return &domain.NodeResult{
		Status: domain.StatusOK,
		Result: domain.Result{Value: value, OutDir: dest, Fingerprint: fp},
	}
}

func (s *Session) evaluateWorker(
	ctx context.Context,
	span ports.Span,
	node *domain.Node,
	deps map[domain.InternedString]domain.Result,
	fp string,
) *domain.NodeResult {
	if node.Start == nil {
		return failedResult(span, zerr.With(domain.ErrMissingStart, "node", node.Name.String()))
	}

	dest, err := s.ensureDest(node.Name)
	if err != nil {
		return failedResult(span, err)
	}

	call := &domain.BodyCall{
		Node:   node.Name,
		Dest:   dest,
		Deps:   deps,
		Stdout: span,
		Stderr: span,
	}
	return s.acquireWorker(ctx, span, node, call, fp)
}

// runBody executes a Target or Command body in its exclusive output
// directory. The session handle is non-nil only for Commands.
func (s *Session) runBody(
	ctx context.Context,
	span ports.Span,
	node *domain.Node,
	deps map[domain.InternedString]domain.Result,
	session domain.Evaluator,
) (value []byte, dest string, err error) {
	if node.Body == nil {
		return nil, "", zerr.With(domain.ErrMissingBody, "node", node.Name.String())
	}

	dest, err = s.ensureDest(node.Name)
	if err != nil {
		return nil, "", err
	}

	call := &domain.BodyCall{
		Node:    node.Name,
		Dest:    dest,
		Deps:    deps,
		Session: session,
		Stdout:  span,
		Stderr:  span,
	}
	value, err = node.Body(withInProgress(ctx, node.Name), call)
	if err != nil {
		return nil, "", err
	}
	return value, dest, nil
}

func (s *Session) ensureDest(name domain.InternedString) (string, error) {
	dest := domain.OutputDir(s.graph.Root(), name)
	if err := os.MkdirAll(dest, domain.DirPerm); err != nil {
		return "", zerr.Wrap(err, domain.ErrDestCreateFailed.Error())
	}
	return dest, nil
}

func failedResult(span ports.Span, err error) *domain.NodeResult {
	span.RecordError(err)
	return &domain.NodeResult{Status: domain.StatusFailed, Err: err}
}
