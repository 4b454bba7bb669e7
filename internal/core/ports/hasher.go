package ports

// InputHasher defines the interface for hashing a node's source inputs.
//
//go:generate mockgen -source=hasher.go -destination=mocks/mock_hasher.go -package=mocks
type InputHasher interface {
	// HashInputs computes a deterministic hash over the content of the given
	// paths, resolved relative to root. Paths may be files, directories or
	// glob patterns.
	HashInputs(inputs []string, root string) (uint64, error)
}
