// Package app implements the application layer for kiln.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.trai.ch/kiln/internal/adapters/linear"
	"go.trai.ch/kiln/internal/adapters/telemetry"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/evaluator"
	"go.trai.ch/kiln/internal/engine/watch"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// App represents the main application logic.
type App struct {
	configLoader ports.ConfigLoader
	store        ports.CacheStore
	hasher       ports.InputHasher
	watcher      ports.Watcher
	logger       ports.Logger
}

// New creates a new App instance.
func New(
	loader ports.ConfigLoader,
	store ports.CacheStore,
	hasher ports.InputHasher,
	watcher ports.Watcher,
	log ports.Logger,
) *App {
	return &App{
		configLoader: loader,
		store:        store,
		hasher:       hasher,
		watcher:      watcher,
		logger:       log,
	}
}

// RunOptions configuration for the Run method.
type RunOptions struct {
	NoCache     bool
	Parallelism int
}

// Run evaluates the specified targets once and tears the session down.
func (a *App) Run(ctx context.Context, targetNames []string, opts RunOptions) error {
	graph, err := a.configLoader.Load(".")
	if err != nil {
		return zerr.Wrap(err, "failed to load configuration")
	}

	if len(targetNames) == 0 {
		return domain.ErrNoTargetsSpecified
	}

	renderer := linear.NewRenderer(os.Stdout, os.Stderr)
	tracer := a.setupTelemetry(renderer)

	session := evaluator.NewSession(graph, a.store, a.hasher, tracer, a.logger,
		evaluator.WithNoCache(opts.NoCache),
		evaluator.WithParallelism(opts.Parallelism),
	)
	defer a.closeSession(session)

	g, ctx := errgroup.WithContext(ctx)

	// Renderer Routine
	g.Go(func() error {
		if err := renderer.Start(ctx); err != nil {
			return err
		}
		// Wait blocks until the renderer has terminated.
		return renderer.Wait()
	})

	// Evaluation Routine
	g.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(os.Stderr, "evaluation panic: %v\n", r)
			}
			_ = renderer.Stop()
		}()

		report, err := session.Evaluate(ctx, domain.NewInternedStrings(targetNames))
		if err != nil {
			return err
		}
		if reportErr := report.Err(); reportErr != nil {
			return errors.Join(domain.ErrEvaluationFailed, reportErr)
		}
		return nil
	})

	return g.Wait()
}

// WatchOptions configuration for the Watch method.
type WatchOptions struct {
	NoCache     bool
	Parallelism int
	// DebounceWindow batches file system events; zero keeps the default.
	DebounceWindow time.Duration
}

// Watch evaluates the targets, then re-evaluates on every file change until
// the context is cancelled. The session, with its cache and live workers,
// spans all iterations.
func (a *App) Watch(ctx context.Context, targetNames []string, opts WatchOptions) error {
	graph, err := a.configLoader.Load(".")
	if err != nil {
		return zerr.Wrap(err, "failed to load configuration")
	}

	if len(targetNames) == 0 {
		return domain.ErrNoTargetsSpecified
	}

	renderer := linear.NewRenderer(os.Stdout, os.Stderr)
	tracer := a.setupTelemetry(renderer)

	session := evaluator.NewSession(graph, a.store, a.hasher, tracer, a.logger,
		evaluator.WithNoCache(opts.NoCache),
		evaluator.WithParallelism(opts.Parallelism),
	)
	defer a.closeSession(session)

	driver := watch.NewDriver(session, a.watcher, a.logger,
		domain.NewInternedStrings(targetNames),
		watch.WithDebounceWindow(opts.DebounceWindow),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := renderer.Start(ctx); err != nil {
			return err
		}
		return renderer.Wait()
	})

	g.Go(func() error {
		defer func() {
			_ = renderer.Stop()
		}()

		if err := driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	return g.Wait()
}

// Graph writes the node graph in execution order, one node per line.
func (a *App) Graph(out io.Writer) error {
	graph, err := a.configLoader.Load(".")
	if err != nil {
		return zerr.Wrap(err, "failed to load configuration")
	}

	for node := range graph.Walk() {
		if _, err := fmt.Fprintf(out, "%s (%s)", node.Name.String(), node.Kind.String()); err != nil {
			return err
		}
		if len(node.Dependencies) > 0 {
			deps := make([]string, len(node.Dependencies))
			for i, dep := range node.Dependencies {
				deps[i] = dep.String()
			}
			if _, err := fmt.Fprintf(out, " <- %s", strings.Join(deps, ", ")); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(out); err != nil {
			return err
		}
	}
	return nil
}

// CleanOptions configuration for the Clean method.
type CleanOptions struct {
	Outputs bool
	All     bool
}

// Clean removes persisted state under the project's .kiln directory.
func (a *App) Clean(_ context.Context, options CleanOptions) error {
	root, err := a.configLoader.DiscoverRoot(".")
	if err != nil {
		return err
	}

	var errs error

	// Helper to remove a directory and log the action
	remove := func(path string, name string) {
		a.logger.Info(fmt.Sprintf("removing %s...", name))
		if err := os.RemoveAll(path); err != nil {
			errs = errors.Join(errs, zerr.Wrap(err, fmt.Sprintf("failed to remove %s", name)))
			return
		}
		a.logger.Info(fmt.Sprintf("removed %s", name))
	}

	switch {
	case options.All:
		remove(filepath.Join(root, domain.KilnDirName), "kiln state directory")
	case options.Outputs:
		remove(filepath.Join(root, domain.DefaultStorePath()), "result cache")
		remove(filepath.Join(root, domain.KilnDirName, domain.OutDirName), "node outputs")
	default:
		remove(filepath.Join(root, domain.DefaultStorePath()), "result cache")
	}

	return errs
}

func (a *App) closeSession(session *evaluator.Session) {
	if err := session.Close(); err != nil {
		a.logger.Warn(fmt.Sprintf("failed to stop workers: %v", err))
	}
}

// setupTelemetry wires the OTel SDK to the renderer and returns the tracer
// node bodies write their output through.
func (a *App) setupTelemetry(renderer ports.Renderer) ports.Tracer {
	// Create a bridge that sends OTel spans to the renderer, and register a
	// provider using it so spans started via otel.Tracer() are reported.
	bridge := telemetry.NewBridge(renderer)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(bridge),
	)
	otel.SetTracerProvider(tp)

	// The renderer is injected so the tracer can stream logs via the batcher.
	return telemetry.NewOTelTracer("kiln").WithRenderer(renderer)
}
