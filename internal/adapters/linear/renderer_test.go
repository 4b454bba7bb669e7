package linear_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/linear"
	"go.trai.ch/zerr"
)

func TestRenderer_NodeLifecycle(t *testing.T) {
	var stdout, stderr bytes.Buffer
	r := linear.NewRenderer(&stdout, &stderr)

	require.NoError(t, r.Start(context.Background()))

	r.OnPlanEmit([]string{"lib.build", "app.build"}, map[string][]string{
		"app.build": {"lib.build"},
	}, []string{"app.build"})

	require.Contains(t, stderr.String(), "Planning to evaluate 2 node(s)")

	startTime := time.Now()
	r.OnNodeStart("span1", "", "lib.build", startTime)
	require.Contains(t, stderr.String(), "[lib.build]")

	r.OnNodeLog("span1", []byte("first line\n"))
	r.OnNodeLog("span1", []byte("second line\n"))

	stdoutStr := stdout.String()
	require.Contains(t, stdoutStr, "[lib.build] first line")
	require.Contains(t, stdoutStr, "[lib.build] second line")

	r.OnNodeComplete("span1", startTime.Add(100*time.Millisecond), nil)
	require.Contains(t, stderr.String(), "Completed")

	require.NoError(t, r.Stop())
}

func TestRenderer_PartialLines(t *testing.T) {
	var stdout, stderr bytes.Buffer
	r := linear.NewRenderer(&stdout, &stderr)

	startTime := time.Now()
	r.OnNodeStart("span1", "", "app.build", startTime)

	r.OnNodeLog("span1", []byte("partial"))
	assert.NotContains(t, stdout.String(), "partial", "partial line should not be printed immediately")

	r.OnNodeLog("span1", []byte(" line\n"))
	require.Contains(t, stdout.String(), "[app.build] partial line")

	// Flush on complete
	r.OnNodeLog("span1", []byte("unflushed"))
	r.OnNodeComplete("span1", startTime.Add(50*time.Millisecond), nil)
	require.Contains(t, stdout.String(), "unflushed")
}

func TestRenderer_NodeError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	r := linear.NewRenderer(&stdout, &stderr)

	startTime := time.Now()
	r.OnNodeStart("span1", "", "failing.node", startTime)
	r.OnNodeLog("span1", []byte("error output\n"))

	r.OnNodeComplete("span1", startTime.Add(50*time.Millisecond), zerr.New("node failed"))

	require.Contains(t, stderr.String(), "Failed")
	require.Contains(t, stderr.String(), "node failed")
}

func TestRenderer_ConcurrentNodes(t *testing.T) {
	var stdout, stderr bytes.Buffer
	r := linear.NewRenderer(&stdout, &stderr)

	startTime := time.Now()
	r.OnNodeStart("span1", "", "node1", startTime)
	r.OnNodeStart("span2", "", "node2", startTime)

	r.OnNodeLog("span1", []byte("node1 line 1\n"))
	r.OnNodeLog("span2", []byte("node2 line 1\n"))
	r.OnNodeLog("span1", []byte("node1 line 2\n"))
	r.OnNodeLog("span2", []byte("node2 line 2\n"))

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 4)
	for _, line := range lines {
		assert.True(t,
			strings.HasPrefix(line, "[node1]") || strings.HasPrefix(line, "[node2]"),
			"line should carry a node prefix: %q", line)
	}

	endTime := startTime.Add(100 * time.Millisecond)
	r.OnNodeComplete("span1", endTime, nil)
	r.OnNodeComplete("span2", endTime, nil)
}

func TestRenderer_NoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	var stdout, stderr bytes.Buffer
	r := linear.NewRenderer(&stdout, &stderr)

	startTime := time.Now()
	r.OnNodeStart("span1", "", "node1", startTime)
	r.OnNodeComplete("span1", startTime.Add(50*time.Millisecond), nil)

	assert.NotContains(t, stderr.String(), "\x1b[")
}

func TestRenderer_UnknownSpan(t *testing.T) {
	var stdout, stderr bytes.Buffer
	r := linear.NewRenderer(&stdout, &stderr)

	r.OnNodeLog("unknown-span", []byte("should be ignored\n"))
	r.OnNodeComplete("unknown-span", time.Now(), nil)

	assert.Zero(t, stdout.Len())
	assert.Zero(t, stderr.Len())
}

func TestRenderer_EmptyLines(t *testing.T) {
	var stdout, stderr bytes.Buffer
	r := linear.NewRenderer(&stdout, &stderr)

	startTime := time.Now()
	r.OnNodeStart("span1", "", "node1", startTime)

	r.OnNodeLog("span1", []byte("\n"))
	r.OnNodeLog("span1", []byte("\r\n"))

	assert.NotContains(t, stdout.String(), "[node1]")
}

func TestRenderer_StopFlushesBuffers(t *testing.T) {
	var stdout, stderr bytes.Buffer
	r := linear.NewRenderer(&stdout, &stderr)

	startTime := time.Now()
	r.OnNodeStart("span1", "", "node1", startTime)
	r.OnNodeStart("span2", "", "node2", startTime)

	r.OnNodeLog("span1", []byte("partial1"))
	r.OnNodeLog("span2", []byte("partial2"))

	require.NoError(t, r.Stop())

	require.Contains(t, stdout.String(), "partial1")
	require.Contains(t, stdout.String(), "partial2")
}

func TestRenderer_NilWriters(_ *testing.T) {
	r := linear.NewRenderer(nil, nil)

	startTime := time.Now()
	r.OnNodeStart("span1", "", "node1", startTime)
	r.OnNodeLog("span1", []byte("test\n"))
	r.OnNodeComplete("span1", startTime.Add(time.Second), nil)
}
