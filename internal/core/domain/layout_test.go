package domain_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/core/domain"
)

func TestDefaultStorePath(t *testing.T) {
	require.Equal(t, filepath.Join(".kiln", "store"), domain.DefaultStorePath())
}

func TestOutputDir_SegmentsNodePath(t *testing.T) {
	dir := domain.OutputDir("/tmp/p", domain.NewInternedString("server.compile"))
	require.Equal(t, filepath.Join("/tmp/p", ".kiln", "out", "server", "compile"), dir)
}

func TestOutputDir_SiblingsNeverCollide(t *testing.T) {
	a := domain.OutputDir("/r", domain.NewInternedString("a.b"))
	b := domain.OutputDir("/r", domain.NewInternedString("a.c"))
	require.NotEqual(t, a, b)
}

func TestNodeKind_String(t *testing.T) {
	require.Equal(t, "target", domain.KindTarget.String())
	require.Equal(t, "command", domain.KindCommand.String())
	require.Equal(t, "worker", domain.KindWorker.String())
}
