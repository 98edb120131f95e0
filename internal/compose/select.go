package compose

import (
	"math/rand"

	"github.com/bundleforge/bundleforge/internal/library"
	"github.com/bundleforge/bundleforge/internal/platform/fhir"
)

// Pick is one selected resource: its symbolic reference, the indexed body,
// and the index key used for claim tracking.
type Pick struct {
	Ref      string
	Resource map[string]interface{}
	Key      fhir.Key
}

// Select draws up to count distinct resources of the allowed types, skipping
// keys already claimed earlier in the run. A pool smaller than count is not
// an error: every unclaimed candidate is returned. The pool is assembled in
// deterministic order, so a seeded rng reproduces the draw exactly.
//
// claimed is read, never written. Callers commit accepted picks into claimed
// themselves; a rejected selection must leave no trace.
func Select(allowed []string, ix *library.Index, count int, claimed map[fhir.Key]bool, rng *rand.Rand) []Pick {
	var candidates []fhir.Key
	for _, rt := range allowed {
		for _, key := range ix.Keys(rt) {
			if !claimed[key] {
				candidates = append(candidates, key)
			}
		}
	}
	if len(candidates) == 0 || count <= 0 {
		return nil
	}

	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	n := count
	if n > len(candidates) {
		n = len(candidates)
	}

	picks := make([]Pick, 0, n)
	for _, key := range candidates[:n] {
		body, _ := ix.Get(key)
		picks = append(picks, Pick{Ref: key.Ref(), Resource: body, Key: key})
	}
	return picks
}
