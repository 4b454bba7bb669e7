// Package watch drives repeated evaluations from file system changes.
package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.trai.ch/kiln/internal/adapters/watcher"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/evaluator"
	"go.trai.ch/zerr"
)

// Driver owns one evaluation session across watch iterations. Changes cancel
// the in-flight evaluation and queue exactly one follow-up run; any further
// changes during the rerun fold into the queued trigger. The session's cache
// and worker registry survive every iteration; only the session owner tears
// workers down.
type Driver struct {
	session *evaluator.Session
	watcher ports.Watcher
	logger  ports.Logger

	targets []domain.InternedString
	window  time.Duration

	// trigger is buffered with capacity one so pending reruns coalesce.
	trigger chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Option configures a Driver.
type Option func(*Driver)

// WithDebounceWindow overrides the window used to batch file system events.
func WithDebounceWindow(window time.Duration) Option {
	return func(d *Driver) {
		if window > 0 {
			d.window = window
		}
	}
}

// NewDriver creates a Driver evaluating the given targets on every change.
func NewDriver(
	session *evaluator.Session,
	w ports.Watcher,
	logger ports.Logger,
	targets []domain.InternedString,
	opts ...Option,
) *Driver {
	d := &Driver{
		session: session,
		watcher: w,
		logger:  logger,
		targets: targets,
		window:  watcher.DefaultDebounceWindow,
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run evaluates once, then blocks re-evaluating on every debounced change
// until the context is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	if len(d.targets) == 0 {
		return domain.ErrNoTargetsSpecified
	}

	root := d.session.Graph().Root()
	if err := d.watcher.Start(ctx, root); err != nil {
		return zerr.Wrap(err, domain.ErrWatcherStartFailed.Error())
	}
	defer func() {
		_ = d.watcher.Stop()
	}()

	debouncer := watcher.NewDebouncer(d.window, d.onChange)
	go d.consumeEvents(debouncer)

	d.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.trigger:
			d.runOnce(ctx)
		}
	}
}

func (d *Driver) consumeEvents(debouncer *watcher.Debouncer) {
	for event := range d.watcher.Events() {
		debouncer.Add(event.Path)
	}
}

// onChange runs on the debouncer's timer goroutine. It cancels the in-flight
// evaluation so the main loop can pick up the queued rerun promptly.
func (d *Driver) onChange(paths []string) {
	d.logger.Info(fmt.Sprintf("detected %d change(s), re-evaluating", len(paths)))

	select {
	case d.trigger <- struct{}{}:
	default:
		// A rerun is already queued; this batch folds into it.
	}

	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (d *Driver) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.cancel = nil
		d.mu.Unlock()
		cancel()
	}()

	report, err := d.session.Evaluate(runCtx, d.targets)
	if err != nil {
		d.logger.Error(err)
		return
	}
	if reportErr := report.Err(); reportErr != nil {
		d.logger.Error(reportErr)
		return
	}
	if runCtx.Err() != nil {
		// The run was cut short; the queued trigger will finish the job.
		return
	}
	d.logger.Info(fmt.Sprintf("evaluated %d node(s)", len(report)))
}
