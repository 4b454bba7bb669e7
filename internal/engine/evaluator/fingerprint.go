package evaluator

import (
	"context"
	"encoding/binary"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

// fieldSeparator terminates every hashed field so adjacent fields cannot
// collide by concatenation.
var fieldSeparator = []byte{0}

// fingerprint identifies one computation instance of a node: its identity,
// body signature, the fingerprints of its resolved dependencies and the
// content of its source inputs. Targets are served from the cache when the
// stored fingerprint matches; Workers are recreated when it changes.
func (s *Session) fingerprint(
	node *domain.Node,
	deps map[domain.InternedString]domain.Result,
) (string, error) {
	h := xxhash.New()
	writeField(h, node.Name.String())
	writeField(h, node.Sig)

	// Dependency order in the declaration must not matter.
	depNames := slices.SortedFunc(maps.Keys(deps), func(a, b domain.InternedString) int {
		return strings.Compare(a.String(), b.String())
	})
	for _, dep := range depNames {
		writeField(h, dep.String())
		writeField(h, deps[dep].Fingerprint)
	}

	if len(node.Inputs) > 0 {
		inputs := make([]string, len(node.Inputs))
		for i, input := range node.Inputs {
			inputs[i] = input.String()
		}
		inputHash, err := s.hasher.HashInputs(inputs, s.graph.Root())
		if err != nil {
			return "", zerr.Wrap(err, domain.ErrInputHashFailed.Error())
		}

		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], inputHash)
		_, _ = h.Write(buf[:])
		_, _ = h.Write(fieldSeparator)
	}

	return strconv.FormatUint(h.Sum64(), 16), nil
}

func writeField(h *xxhash.Digest, field string) {
	_, _ = h.WriteString(field)
	_, _ = h.Write(fieldSeparator)
}

// inProgressKey carries the set of node identities currently being evaluated
// on this call path. Command bodies inherit it through their context, which
// lets a nested Evaluate detect re-entrant cycles that the static graph
// validation cannot see.
type inProgressKey struct{}

func inProgressSet(ctx context.Context) map[domain.InternedString]bool {
	set, _ := ctx.Value(inProgressKey{}).(map[domain.InternedString]bool)
	return set
}

// withInProgress extends the in-progress set with the given node. The stored
// map is never mutated afterwards, so readers need no locking.
func withInProgress(ctx context.Context, name domain.InternedString) context.Context {
	old := inProgressSet(ctx)
	next := make(map[domain.InternedString]bool, len(old)+1)
	maps.Copy(next, old)
	next[name] = true
	return context.WithValue(ctx, inProgressKey{}, next)
}
