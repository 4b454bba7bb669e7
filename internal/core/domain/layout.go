package domain

import (
	"path/filepath"
	"strings"
)

const (
	// KilnDirName is the name of the internal workspace directory.
	KilnDirName = ".kiln"

	// StoreDirName is the name of the cache store directory.
	StoreDirName = "store"

	// OutDirName is the name of the per-node output directory tree.
	OutDirName = "out"

	// KilnFileName is the name of the project configuration file.
	KilnFileName = "kiln.yaml"

	// DestEnvVar is the environment variable carrying a node's exclusive
	// output directory into declared shell bodies.
	DestEnvVar = "KILN_DEST"

	// DebugLogFile is the name of the debug log file.
	DebugLogFile = "debug.log"

	// DirPerm is the default permission for directories (rwxr-x---).
	DirPerm = 0o750

	// FilePerm is the default permission for files (rw-r--r--).
	FilePerm = 0o644

	// PrivateFilePerm is the default permission for private files (rw-------).
	PrivateFilePerm = 0o600
)

// DefaultKilnPath returns the default root directory for kiln metadata.
func DefaultKilnPath() string {
	return KilnDirName
}

// DefaultStorePath returns the default path for the cache store, relative to
// the project root.
func DefaultStorePath() string {
	return filepath.Join(KilnDirName, StoreDirName)
}

// DefaultDebugLogPath returns the default path for the debug log.
func DefaultDebugLogPath() string {
	return filepath.Join(KilnDirName, DebugLogFile)
}

// OutputDir returns the exclusive output directory for a node. Node names are
// dot-separated paths; each segment becomes a directory so sibling nodes can
// never collide.
func OutputDir(root string, name InternedString) string {
	segments := strings.Split(name.String(), ".")
	parts := append([]string{root, KilnDirName, OutDirName}, segments...)
	return filepath.Join(parts...)
}
