package shell_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/shell"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/core/ports/mocks"
	"go.uber.org/mock/gomock"
)

func newExecutor(t *testing.T) *shell.Executor {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockLogger := mocks.NewMockLogger(ctrl)
	mockLogger.EXPECT().Info(gomock.Any()).AnyTimes()
	mockLogger.EXPECT().Error(gomock.Any()).AnyTimes()
	return shell.NewExecutor(mockLogger)
}

func TestExecutor_Execute_MultiLineOutput(t *testing.T) {
	executor := newExecutor(t)

	var stdout bytes.Buffer
	err := executor.Execute(context.Background(), ports.ExecSpec{
		Argv:   []string{"sh", "-c", "echo line1; echo line2"},
		Dir:    t.TempDir(),
		Stdout: &stdout,
	})
	require.NoError(t, err)

	output := stdout.String()
	require.Contains(t, output, "line1")
	require.Contains(t, output, "line2")
}

func TestExecutor_Execute_EnvironmentVariables(t *testing.T) {
	executor := newExecutor(t)

	var stdout bytes.Buffer
	err := executor.Execute(context.Background(), ports.ExecSpec{
		Argv:   []string{"sh", "-c", "echo $MY_TEST_VAR"},
		Dir:    t.TempDir(),
		Env:    map[string]string{"MY_TEST_VAR": "test-value-123"},
		Stdout: &stdout,
	})
	require.NoError(t, err)

	require.Contains(t, stdout.String(), "test-value-123")
}

func TestExecutor_Execute_HermeticEnvironment(t *testing.T) {
	t.Setenv("KILN_LEAKY_VAR", "should-not-leak")

	executor := newExecutor(t)

	var stdout bytes.Buffer
	err := executor.Execute(context.Background(), ports.ExecSpec{
		Argv:   []string{"sh", "-c", "echo leaked=$KILN_LEAKY_VAR"},
		Dir:    t.TempDir(),
		Stdout: &stdout,
	})
	require.NoError(t, err)

	require.Contains(t, stdout.String(), "leaked=")
	require.NotContains(t, stdout.String(), "should-not-leak")
}

func TestExecutor_Execute_InvalidCommand(t *testing.T) {
	executor := newExecutor(t)

	err := executor.Execute(context.Background(), ports.ExecSpec{
		Argv: []string{"nonexistent-command-xyz123"},
		Dir:  t.TempDir(),
	})
	require.Error(t, err)
}

func TestExecutor_Execute_CommandFailure(t *testing.T) {
	executor := newExecutor(t)

	err := executor.Execute(context.Background(), ports.ExecSpec{
		Argv: []string{"sh", "-c", "exit 42"},
		Dir:  t.TempDir(),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "command failed")
}

func TestExecutor_Execute_EmptyCommand(t *testing.T) {
	executor := newExecutor(t)

	err := executor.Execute(context.Background(), ports.ExecSpec{
		Dir: t.TempDir(),
	})
	require.NoError(t, err)
}

func TestExecutor_Execute_SeparateStreams(t *testing.T) {
	executor := newExecutor(t)

	var stdout, stderr bytes.Buffer
	err := executor.Execute(context.Background(), ports.ExecSpec{
		Argv:   []string{"sh", "-c", "echo out; echo err 1>&2"},
		Dir:    t.TempDir(),
		Stdout: &stdout,
		Stderr: &stderr,
	})
	require.NoError(t, err)

	require.Contains(t, stdout.String(), "out")
	require.NotContains(t, stdout.String(), "err")
	require.Contains(t, stderr.String(), "err")
}

func TestExecutor_Execute_Cancelled(t *testing.T) {
	executor := newExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := executor.Execute(ctx, ports.ExecSpec{
		Argv: []string{"sh", "-c", "sleep 30"},
		Dir:  t.TempDir(),
	})
	require.Error(t, err)
}

func TestExecutor_StartWorker_OutlivesContext(t *testing.T) {
	executor := newExecutor(t)

	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	handle, err := executor.StartWorker(ctx, ports.ExecSpec{
		Argv:   []string{"sh", "-c", "sleep 30"},
		Dir:    dir,
		Stdout: io.Discard,
	})
	require.NoError(t, err)

	// Cancelling the start context must not terminate the worker; only
	// Close does.
	cancel()

	require.NoError(t, handle.Close())
	require.NoError(t, handle.Close(), "Close is idempotent")
}

func TestExecutor_StartWorker_EmptyCommand(t *testing.T) {
	executor := newExecutor(t)

	_, err := executor.StartWorker(context.Background(), ports.ExecSpec{
		Dir: t.TempDir(),
	})
	require.Error(t, err)
}

func TestExecutor_StartWorker_StreamsOutput(t *testing.T) {
	executor := newExecutor(t)

	var stdout safeBuffer
	handle, err := executor.StartWorker(context.Background(), ports.ExecSpec{
		Argv:   []string{"sh", "-c", "echo ready; sleep 30"},
		Dir:    t.TempDir(),
		Stdout: &stdout,
	})
	require.NoError(t, err)
	defer handle.Close() //nolint:errcheck // Best effort cleanup in test

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "ready")
	}, 5*time.Second, 10*time.Millisecond)
}

// safeBuffer is a bytes.Buffer safe for concurrent Write and String.
type safeBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
