// Package cache implements the persistent Target result store.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.CacheStore = (*Store)(nil)

// Store implements ports.CacheStore using a file-per-node strategy under
// <root>/.kiln/store. File names are derived from the node name so that
// a new result for a node replaces the old one.
type Store struct{}

// NewStore creates a new Store.
func NewStore() *Store {
	return &Store{}
}

// Lookup retrieves the cached entry for a node. A missing file, an entry
// that fails to parse and an entry whose fingerprint does not match are
// all reported as a miss (nil, nil). The cache is advisory; a bad entry
// costs a rebuild, never a failed evaluation.
func (s *Store) Lookup(root, nodeName, fingerprint string) (*domain.CacheEntry, error) {
	filename := s.getFilename(root, nodeName)
	//nolint:gosec // Path is constructed from trusted directory and hashed filename
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, nil
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, nil
	}

	if entry.Fingerprint != fingerprint {
		return nil, nil
	}

	return &entry, nil
}

// Put stores the entry, replacing any previous record for the node.
func (s *Store) Put(root string, entry domain.CacheEntry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return zerr.Wrap(err, domain.ErrStoreMarshalFailed.Error())
	}

	filename := s.getFilename(root, entry.NodeName)
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, domain.DirPerm); err != nil {
		return zerr.Wrap(err, domain.ErrStoreCreateFailed.Error())
	}

	//nolint:gosec // Path is constructed from trusted directory and hashed filename
	if err := os.WriteFile(filename, data, domain.FilePerm); err != nil {
		return zerr.Wrap(err, domain.ErrStoreWriteFailed.Error())
	}

	return nil
}

func (s *Store) getFilename(root, nodeName string) string {
	hash := sha256.Sum256([]byte(nodeName))
	hexHash := hex.EncodeToString(hash[:])
	storeDir := filepath.Join(root, domain.DefaultStorePath())
	return filepath.Join(storeDir, hexHash+".json")
}
