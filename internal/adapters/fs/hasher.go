package fs

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.InputHasher = (*Hasher)(nil)

// Hasher hashes declared source inputs into a single content digest.
type Hasher struct {
	walker *Walker
}

// NewHasher creates a new Hasher.
func NewHasher(walker *Walker) *Hasher {
	return &Hasher{walker: walker}
}

// HashInputs computes a single hash over the content of the given input
// paths, resolved relative to root. An input may name a file, a directory
// (hashed recursively) or a glob pattern. The result is stable across runs
// as long as the matched files and their content are unchanged.
func (h *Hasher) HashInputs(inputs []string, root string) (uint64, error) {
	hasher := xxhash.New()

	for _, input := range inputs {
		paths, err := h.resolve(filepath.Join(root, input))
		if err != nil {
			return 0, err
		}
		for _, path := range paths {
			if err := h.hashPath(path, root, hasher); err != nil {
				return 0, err
			}
		}
	}

	return hasher.Sum64(), nil
}

// resolve expands a single input into concrete paths. A path that exists is
// returned as is; otherwise it is treated as a glob pattern. Zero matches is
// an error so that a typo in an input list fails loudly instead of silently
// hashing nothing.
func (h *Hasher) resolve(path string) ([]string, error) {
	if _, err := os.Stat(path); err == nil {
		return []string{path}, nil
	}

	matches, err := filepath.Glob(path)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to glob input"), "path", path)
	}
	if len(matches) == 0 {
		return nil, zerr.With(domain.ErrInputNotFound, "path", path)
	}

	sort.Strings(matches)
	return matches, nil
}

func (h *Hasher) hashPath(path, root string, hasher *xxhash.Digest) error {
	info, err := os.Stat(path)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to stat input"), "path", path)
	}

	if info.IsDir() {
		for filePath := range h.walker.WalkFiles(path, nil) {
			if err := h.hashFile(filePath, root, hasher); err != nil {
				return err
			}
		}
		return nil
	}

	return h.hashFile(path, root, hasher)
}

func (h *Hasher) hashFile(path, root string, hasher *xxhash.Digest) error {
	// Relative paths keep the digest stable when the tree moves.
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	_, _ = hasher.WriteString(filepath.ToSlash(rel))
	_, _ = hasher.Write([]byte{0})

	content, err := h.hashContent(path)
	if err != nil {
		return err
	}

	if err := binary.Write(hasher, binary.LittleEndian, content); err != nil {
		return zerr.Wrap(err, "failed to write hash to digest")
	}
	return nil
}

// hashContent computes the XXHash of a single file's content.
func (h *Hasher) hashContent(path string) (uint64, error) {
	f, err := os.Open(path) //nolint:gosec // Path is controlled by caller
	if err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to open file"), "path", path)
	}
	defer f.Close() //nolint:errcheck // Best effort close in defer

	hasher := xxhash.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to hash file content"), "path", path)
	}

	return hasher.Sum64(), nil
}
