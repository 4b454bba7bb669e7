// Package linear provides a synchronous, line-buffered renderer for CI environments.
package linear

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/muesli/termenv"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/ui/output"
	"go.trai.ch/kiln/internal/ui/style"
)

var _ ports.Renderer = (*Renderer)(nil)

// Renderer implements ports.Renderer for CI/non-interactive environments.
// It outputs linear, chronological logs with node name prefixes.
type Renderer struct {
	stdout io.Writer
	stderr io.Writer
	output *termenv.Output

	mu      sync.Mutex
	nodes   map[string]*nodeState // spanID -> node state
	buffers map[string]*bytes.Buffer
}

type nodeState struct {
	name      string
	startTime time.Time
}

// NewRenderer creates a new Renderer.
func NewRenderer(stdout, stderr io.Writer) *Renderer {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	out := termenv.NewOutput(stderr, termenv.WithProfile(output.ColorProfileANSI()))

	return &Renderer{
		stdout:  stdout,
		stderr:  stderr,
		output:  out,
		nodes:   make(map[string]*nodeState),
		buffers: make(map[string]*bytes.Buffer),
	}
}

// Start is a no-op for the linear renderer (synchronous).
func (r *Renderer) Start(_ context.Context) error {
	return nil
}

// Stop flushes all remaining buffers.
func (r *Renderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for spanID := range r.buffers {
		r.flushBufferLocked(spanID)
	}

	return nil
}

// Wait is a no-op for the linear renderer (synchronous).
func (r *Renderer) Wait() error {
	return nil
}

// OnPlanEmit prints the planned node closure.
func (r *Renderer) OnPlanEmit(nodes []string, _ map[string][]string, targets []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.stderr, "Planning to evaluate %d node(s) for target(s): %v\n",
		len(nodes), targets)
}

// OnNodeStart prints a node start message.
func (r *Renderer) OnNodeStart(spanID, _ /* parentID */, name string, startTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nodes[spanID] = &nodeState{
		name:      name,
		startTime: startTime,
	}
	r.buffers[spanID] = new(bytes.Buffer)

	prefix := r.output.String(fmt.Sprintf("[%s]", name)).Faint().String()
	_, _ = fmt.Fprintf(r.stderr, "%s Starting...\n", prefix)
}

// OnNodeLog buffers log data and prints complete lines with the node prefix.
func (r *Renderer) OnNodeLog(spanID string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[spanID]
	if !ok {
		return
	}

	buf := r.buffers[spanID]
	buf.Write(data)

	for {
		line, err := buf.ReadBytes('\n')
		if err != nil {
			// Incomplete line, put it back
			if len(line) > 0 {
				newBuf := new(bytes.Buffer)
				newBuf.Write(line)
				r.buffers[spanID] = newBuf
			}
			break
		}

		r.printLineLocked(node.name, line)
	}
}

// OnNodeComplete flushes any remaining buffer and prints completion status.
func (r *Renderer) OnNodeComplete(spanID string, endTime time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[spanID]
	if !ok {
		return
	}

	r.flushBufferLocked(spanID)

	duration := endTime.Sub(node.startTime)
	prefix := fmt.Sprintf("[%s]", node.name)

	if err != nil {
		symbol := r.output.String(style.Cross).Foreground(termenv.ANSIRed).String()
		_, _ = fmt.Fprintf(r.stderr, "%s %s Failed after %v: %v\n",
			prefix, symbol, duration, err)
	} else {
		symbol := r.output.String(style.Check).Foreground(termenv.ANSIGreen).String()
		_, _ = fmt.Fprintf(r.stderr, "%s %s Completed in %v\n",
			prefix, symbol, duration)
	}

	delete(r.nodes, spanID)
	delete(r.buffers, spanID)
}

// flushBufferLocked flushes any remaining data in the buffer for a node.
// Must be called with r.mu held.
func (r *Renderer) flushBufferLocked(spanID string) {
	node, ok := r.nodes[spanID]
	if !ok {
		return
	}

	buf := r.buffers[spanID]
	if buf.Len() > 0 {
		r.printLineLocked(node.name, buf.Bytes())
		buf.Reset()
	}
}

// printLineLocked prints a line with the node name prefix.
// Must be called with r.mu held.
func (r *Renderer) printLineLocked(nodeName string, line []byte) {
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))

	if len(line) == 0 {
		return
	}

	prefix := fmt.Sprintf("[%s]", nodeName)
	_, _ = fmt.Fprintf(r.stdout, "%s %s\n", prefix, string(line))
}
