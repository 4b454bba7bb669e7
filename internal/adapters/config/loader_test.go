package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/core/ports/mocks"
	"go.uber.org/mock/gomock"
)

func newLoader(t *testing.T) (*Loader, *mocks.MockExecutor) {
	t.Helper()
	ctrl := gomock.NewController(t)
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Warn(gomock.Any()).AnyTimes()
	executor := mocks.NewMockExecutor(ctrl)
	return NewLoader(log, executor), executor
}

func writeKilnfile(t *testing.T, dir, content string) {
	t.Helper()
	path := filepath.Join(dir, domain.KilnFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoader_Load(t *testing.T) {
	loader, _ := newLoader(t)
	dir := t.TempDir()
	writeKilnfile(t, dir, `
version: "1"
traits:
  go-service:
    build:
      kind: target
      cmd: [go, build, ./...]
      inputs: ["**/*.go"]
    test:
      kind: target
      cmd: [go, test, ./...]
      deps: [build]
nodes:
  lint:
    kind: command
    cmd: [golangci-lint, run]
modules:
  api:
    use: [go-service]
    nodes:
      test:
        cmd: [go, test, -race, ./...]
        deps: [build]
      serve:
        kind: worker
        cmd: [./bin/api]
        deps: [build]
`)

	g, err := loader.Load(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, g.Root())
	assert.Equal(t, 4, g.NodeCount())

	lint, ok := g.GetNode(domain.NewInternedString("lint"))
	require.True(t, ok)
	assert.Equal(t, domain.KindCommand, lint.Kind)
	assert.NotNil(t, lint.Body)

	build, ok := g.GetNode(domain.NewInternedString("api.build"))
	require.True(t, ok)
	assert.Equal(t, domain.KindTarget, build.Kind)
	assert.Equal(t, []domain.InternedString{domain.NewInternedString("**/*.go")}, build.Inputs)

	test, ok := g.GetNode(domain.NewInternedString("api.test"))
	require.True(t, ok)
	require.Len(t, test.Dependencies, 1)
	assert.Equal(t, "api.build", test.Dependencies[0].String())
	// The module's own node replaces the trait node of the same name.
	assert.Equal(t, commandSig([]string{"go", "test", "-race", "./..."}, nil), test.Sig)

	serve, ok := g.GetNode(domain.NewInternedString("api.serve"))
	require.True(t, ok)
	assert.Equal(t, domain.KindWorker, serve.Kind)
	assert.Nil(t, serve.Body)
	assert.NotNil(t, serve.Start)
}

func TestLoader_Load_NestedModules(t *testing.T) {
	loader, _ := newLoader(t)
	dir := t.TempDir()
	writeKilnfile(t, dir, `
modules:
  services:
    modules:
      api:
        nodes:
          build:
            cmd: [make, build]
nodes:
  release:
    cmd: [make, release]
    deps: [services.api.build]
`)

	g, err := loader.Load(dir)
	require.NoError(t, err)

	_, ok := g.GetNode(domain.NewInternedString("services.api.build"))
	assert.True(t, ok)

	release, ok := g.GetNode(domain.NewInternedString("release"))
	require.True(t, ok)
	require.Len(t, release.Dependencies, 1)
	assert.Equal(t, "services.api.build", release.Dependencies[0].String())
}

func TestLoader_Load_FromSubdirectory(t *testing.T) {
	loader, _ := newLoader(t)
	dir := t.TempDir()
	writeKilnfile(t, dir, `
nodes:
  build:
    cmd: [make]
`)
	sub := filepath.Join(dir, "services", "api")
	require.NoError(t, os.MkdirAll(sub, 0o750))

	g, err := loader.Load(sub)
	require.NoError(t, err)
	assert.Equal(t, dir, g.Root())
}

func TestLoader_Load_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name: "missing dependency",
			content: `
nodes:
  build:
    cmd: [make]
    deps: [generate]
`,
			wantErr: domain.ErrMissingDependency,
		},
		{
			name: "cycle",
			content: `
nodes:
  a:
    cmd: ["true"]
    deps: [b]
  b:
    cmd: ["true"]
    deps: [a]
`,
			wantErr: domain.ErrCycleDetected,
		},
		{
			name: "invalid kind",
			content: `
nodes:
  build:
    kind: banana
    cmd: [make]
`,
			wantErr: domain.ErrInvalidNodeKind,
		},
		{
			name: "target without cmd",
			content: `
nodes:
  build:
    kind: target
`,
			wantErr: domain.ErrMissingBody,
		},
		{
			name: "worker without cmd",
			content: `
nodes:
  serve:
    kind: worker
`,
			wantErr: domain.ErrMissingStart,
		},
		{
			name: "unknown trait",
			content: `
modules:
  api:
    use: [ghost]
`,
			wantErr: domain.ErrUnknownTrait,
		},
		{
			name:    "malformed yaml",
			content: "nodes: [",
			wantErr: domain.ErrConfigParseFailed,
		},
		{
			name: "invalid node name",
			content: `
nodes:
  "bad name":
    cmd: [make]
`,
			wantErr: domain.ErrInvalidNodeName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader, _ := newLoader(t)
			dir := t.TempDir()
			writeKilnfile(t, dir, tt.content)

			_, err := loader.Load(dir)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoader_Load_NotFound(t *testing.T) {
	loader, _ := newLoader(t)

	_, err := loader.Load(t.TempDir())
	require.ErrorIs(t, err, domain.ErrConfigNotFound)
}

func TestLoader_Load_WarnsOnUnsupportedVersion(t *testing.T) {
	ctrl := gomock.NewController(t)
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Warn(gomock.Any()).Times(1)
	loader := NewLoader(log, mocks.NewMockExecutor(ctrl))

	dir := t.TempDir()
	writeKilnfile(t, dir, `
version: "99"
nodes:
  build:
    cmd: [make]
`)

	_, err := loader.Load(dir)
	require.NoError(t, err)
}

func TestLoader_DiscoverRoot(t *testing.T) {
	loader, _ := newLoader(t)
	dir := t.TempDir()
	writeKilnfile(t, dir, "nodes:\n")
	sub := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0o750))

	root, err := loader.DiscoverRoot(sub)
	require.NoError(t, err)
	assert.Equal(t, dir, root)
}

func TestLoader_DiscoverRoot_ConfiguredOverride(t *testing.T) {
	loader, _ := newLoader(t)
	dir := t.TempDir()
	cfg := filepath.Join(dir, "cfg")
	require.NoError(t, os.MkdirAll(cfg, 0o750))
	writeKilnfile(t, cfg, "root: ..\n")

	root, err := loader.DiscoverRoot(cfg)
	require.NoError(t, err)
	assert.Equal(t, dir, root)
}

func TestLoader_Body_RunsExecutor(t *testing.T) {
	loader, executor := newLoader(t)
	dir := t.TempDir()
	writeKilnfile(t, dir, `
nodes:
  build:
    cmd: [make, build]
    env:
      CGO_ENABLED: "0"
`)

	g, err := loader.Load(dir)
	require.NoError(t, err)
	node, ok := g.GetNode(domain.NewInternedString("build"))
	require.True(t, ok)

	var stdout, stderr bytes.Buffer
	var captured ports.ExecSpec
	executor.EXPECT().
		Execute(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, spec ports.ExecSpec) error {
			captured = spec
			return nil
		})

	dest := filepath.Join(dir, ".kiln", "out", "build")
	result, err := node.Body(t.Context(), &domain.BodyCall{
		Node:   node.Name,
		Dest:   dest,
		Stdout: &stdout,
		Stderr: &stderr,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"make", "build"}, captured.Argv)
	assert.Equal(t, dir, captured.Dir)
	assert.Equal(t, "0", captured.Env["CGO_ENABLED"])
	assert.Equal(t, dest, captured.Env[domain.DestEnvVar])
	assert.Same(t, &stdout, captured.Stdout)
	assert.Same(t, &stderr, captured.Stderr)
	assert.JSONEq(t, `{"dest":"`+dest+`"}`, string(result))
}

func TestLoader_Body_PropagatesExecutorError(t *testing.T) {
	loader, executor := newLoader(t)
	dir := t.TempDir()
	writeKilnfile(t, dir, `
nodes:
  build:
    cmd: [make]
`)

	g, err := loader.Load(dir)
	require.NoError(t, err)
	node, _ := g.GetNode(domain.NewInternedString("build"))

	executor.EXPECT().
		Execute(gomock.Any(), gomock.Any()).
		Return(assert.AnError)

	_, err = node.Body(t.Context(), &domain.BodyCall{Node: node.Name})
	require.ErrorIs(t, err, assert.AnError)
}

type nopHandle struct{}

func (nopHandle) Close() error { return nil }

func TestLoader_Start_RunsExecutor(t *testing.T) {
	loader, executor := newLoader(t)
	dir := t.TempDir()
	writeKilnfile(t, dir, `
nodes:
  serve:
    kind: worker
    cmd: [./bin/serve, --port, "8080"]
`)

	g, err := loader.Load(dir)
	require.NoError(t, err)
	node, ok := g.GetNode(domain.NewInternedString("serve"))
	require.True(t, ok)

	var captured ports.ExecSpec
	executor.EXPECT().
		StartWorker(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, spec ports.ExecSpec) (domain.WorkerHandle, error) {
			captured = spec
			return nopHandle{}, nil
		})

	handle, err := node.Start(t.Context(), &domain.BodyCall{Node: node.Name, Dest: "/tmp/dest"})
	require.NoError(t, err)
	assert.Equal(t, nopHandle{}, handle)
	assert.Equal(t, []string{"./bin/serve", "--port", "8080"}, captured.Argv)
	assert.Equal(t, "/tmp/dest", captured.Env[domain.DestEnvVar])
}

func TestCommandSig(t *testing.T) {
	t.Parallel()

	base := commandSig([]string{"go", "build"}, map[string]string{"A": "1"})

	assert.Equal(t, base, commandSig([]string{"go", "build"}, map[string]string{"A": "1"}))
	assert.NotEqual(t, base, commandSig([]string{"go", "test"}, map[string]string{"A": "1"}))
	assert.NotEqual(t, base, commandSig([]string{"go", "build"}, map[string]string{"A": "2"}))
	assert.NotEqual(t, base, commandSig([]string{"go", "build"}, nil))
	// Argument boundaries matter.
	assert.NotEqual(t, commandSig([]string{"ab", "c"}, nil), commandSig([]string{"a", "bc"}, nil))
}
