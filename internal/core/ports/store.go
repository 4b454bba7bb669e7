package ports

import "go.trai.ch/kiln/internal/core/domain"

// CacheStore defines the interface for the persisted Target result cache.
//
//go:generate mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks
type CacheStore interface {
	// Lookup returns the cache entry for the node if its recorded fingerprint
	// matches. Returns nil, nil on a miss. Corrupted or unreadable entries
	// are reported as misses, never as errors.
	Lookup(root, nodeName, fingerprint string) (*domain.CacheEntry, error)

	// Put stores the entry, replacing any previous record for the node.
	Put(root string, entry domain.CacheEntry) error
}
