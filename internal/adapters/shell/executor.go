// Package shell provides a subprocess-based executor for declared node bodies.
package shell

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// workerStopTimeout is how long Close waits after SIGTERM before killing.
const workerStopTimeout = 5 * time.Second

var _ ports.Executor = (*Executor)(nil)

// Executor implements ports.Executor using os/exec with standard pipes.
type Executor struct {
	logger ports.Logger
}

// NewExecutor creates a new Executor.
func NewExecutor(logger ports.Logger) *Executor {
	return &Executor{
		logger: logger,
	}
}

// Execute runs the command described by spec and waits for it to complete.
func (e *Executor) Execute(ctx context.Context, spec ports.ExecSpec) error {
	if len(spec.Argv) == 0 {
		return nil
	}

	stdoutLog := &logWriter{logger: e.logger, level: "info"}
	stderrLog := &logWriter{logger: e.logger, level: "error"}
	defer func() {
		_ = stdoutLog.Close()
		_ = stderrLog.Close()
	}()

	cmd := e.command(ctx, spec, stdoutLog, stderrLog)
	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return zerr.With(zerr.Wrap(err, "command failed"), "exit_code", exitCode)
	}

	return nil
}

// StartWorker launches the command as a long-lived process. The process is
// deliberately not bound to ctx; it keeps running until the returned handle
// is closed.
func (e *Executor) StartWorker(_ context.Context, spec ports.ExecSpec) (domain.WorkerHandle, error) {
	if len(spec.Argv) == 0 {
		return nil, zerr.Wrap(domain.ErrWorkerStartFailed, "empty command")
	}

	stdoutLog := &logWriter{logger: e.logger, level: "info"}
	stderrLog := &logWriter{logger: e.logger, level: "error"}

	cmd := e.command(context.Background(), spec, stdoutLog, stderrLog)
	if err := cmd.Start(); err != nil {
		return nil, zerr.Wrap(err, domain.ErrWorkerStartFailed.Error())
	}

	proc := &workerProcess{
		cmd:  cmd,
		done: make(chan struct{}),
		logs: []io.Closer{stdoutLog, stderrLog},
	}
	go proc.wait()

	return proc, nil
}

func (e *Executor) command(ctx context.Context, spec ports.ExecSpec, stdoutLog, stderrLog io.Writer) *exec.Cmd {
	name := spec.Argv[0]
	args := spec.Argv[1:]

	cmdEnv := resolveEnvironment(os.Environ(), spec.Env)

	// Resolve the executable against the constructed environment, not the
	// parent PATH.
	executable := name
	if !filepath.IsAbs(name) {
		if lp, err := lookPath(name, cmdEnv); err == nil {
			executable = lp
		}
	}

	cmd := exec.CommandContext(ctx, executable, args...) //nolint:gosec // user provided command
	if len(cmd.Args) > 0 {
		cmd.Args[0] = name
	}
	cmd.Dir = spec.Dir
	cmd.Env = cmdEnv

	cmd.Stdout = stdoutLog
	if spec.Stdout != nil {
		cmd.Stdout = io.MultiWriter(stdoutLog, spec.Stdout)
	}
	cmd.Stderr = stderrLog
	if spec.Stderr != nil {
		cmd.Stderr = io.MultiWriter(stderrLog, spec.Stderr)
	}

	return cmd
}

// workerProcess is a WorkerHandle backed by a running subprocess.
type workerProcess struct {
	cmd     *exec.Cmd
	done    chan struct{}
	logs    []io.Closer
	waitErr error
	once    sync.Once
}

func (p *workerProcess) wait() {
	p.waitErr = p.cmd.Wait()
	for _, c := range p.logs {
		_ = c.Close()
	}
	close(p.done)
}

// Close terminates the worker process. It asks nicely first and kills the
// process if it has not exited within workerStopTimeout. Close is idempotent.
func (p *workerProcess) Close() error {
	var err error
	p.once.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		_ = p.cmd.Process.Signal(syscall.SIGTERM)

		select {
		case <-p.done:
		case <-time.After(workerStopTimeout):
			_ = p.cmd.Process.Kill()
			<-p.done
		}

		// Exit status of a terminated worker is expected noise, but a
		// failure that happened before Close is worth surfacing.
		if p.waitErr != nil && !isSignalExit(p.waitErr) {
			err = zerr.Wrap(p.waitErr, "worker exited with error")
		}
	})
	return err
}

func isSignalExit(err error) bool {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	return ok && status.Signaled()
}

type logWriter struct {
	logger ports.Logger
	level  string
	buf    []byte
	mu     sync.Mutex
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)

	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}

		w.logLine(w.buf[:i])
		w.buf = w.buf[i+1:]
	}

	return len(p), nil
}

func (w *logWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.logLine(w.buf)
		w.buf = nil
	}
	return nil
}

func (w *logWriter) logLine(line []byte) {
	msg := strings.TrimSuffix(string(line), "\r")

	if w.level == "info" {
		w.logger.Info(msg)
	} else {
		w.logger.Error(zerr.New(msg))
	}
}

// allowListedEnvVars are the system environment variables that node
// subprocesses inherit. Everything else must be declared on the node so
// that fingerprints capture the full effective environment.
var allowListedEnvVars = map[string]struct{}{
	"HOME": {},
	"TERM": {},
	"USER": {},
	"PATH": {},
}

// resolveEnvironment merges the allow-listed system environment with the
// node's declared variables. Declared variables win.
func resolveEnvironment(sysEnv []string, nodeEnv map[string]string) []string {
	envMap := filterSystemEnv(sysEnv)

	for k, v := range nodeEnv {
		envMap[k] = v
	}

	result := make([]string, 0, len(envMap))
	for k, v := range envMap {
		result = append(result, k+"="+v)
	}
	return result
}

func filterSystemEnv(sysEnv []string) map[string]string {
	envMap := make(map[string]string)
	for _, entry := range sysEnv {
		k, v, ok := strings.Cut(entry, "=")
		if ok {
			if _, allowed := allowListedEnvVars[k]; allowed {
				envMap[k] = v
			}
		}
	}
	return envMap
}

// lookPath searches for an executable in the directories named by the PATH
// entry of the given environment.
func lookPath(file string, env []string) (string, error) {
	var path string
	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			path = strings.TrimPrefix(e, "PATH=")
			break
		}
	}

	if path == "" {
		return "", exec.ErrNotFound
	}

	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			// Unix shell semantics: path element "" means "."
			dir = "."
		}
		path := filepath.Join(dir, file)
		if err := findExecutable(path); err == nil {
			return path, nil
		}
	}
	return "", exec.ErrNotFound
}

func findExecutable(file string) error {
	d, err := os.Stat(file)
	if err != nil {
		return err
	}
	if m := d.Mode(); !m.IsDir() && m&0o111 != 0 {
		return nil
	}
	return os.ErrPermission
}
