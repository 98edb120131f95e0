package compose

import (
	"sort"

	"github.com/bundleforge/bundleforge/internal/library"
	"github.com/bundleforge/bundleforge/internal/platform/fhir"
)

// Closure accumulates the transitive reference closure of seed keys into an
// ordered entry list. The visited set is keyed by full identifier and is
// seeded with the Composition's own identifier so the root is never pulled
// in as an ordinary entry. Reference cycles terminate on the visited check.
type Closure struct {
	index   *library.Index
	scanner *fhir.Scanner
	visited map[string]bool
	entries []fhir.BundleEntry
	missing map[fhir.Key]bool
}

// NewClosure creates a closure whose visited set is pre-seeded with the given
// full identifiers.
func NewClosure(ix *library.Index, scanner *fhir.Scanner, seedVisited ...string) *Closure {
	c := &Closure{
		index:   ix,
		scanner: scanner,
		visited: make(map[string]bool),
		missing: make(map[fhir.Key]bool),
	}
	for _, id := range seedVisited {
		c.visited[id] = true
	}
	return c
}

// Include adds the resource stored under key and, depth-first, everything it
// transitively references. Keys absent from the index are recorded as
// missing and recursion stops there.
func (c *Closure) Include(key fhir.Key) {
	body, ok := c.index.Get(key)
	if !ok {
		c.missing[key] = true
		return
	}
	c.add(key, body)
}

// Add inserts an externally synthesized resource through the same visited
// gate and recursion as indexed resources. Placeholder patching re-runs the
// closure over the inserted body this way.
func (c *Closure) Add(key fhir.Key, resource map[string]interface{}) {
	c.add(key, resource)
}

func (c *Closure) add(key fhir.Key, resource map[string]interface{}) {
	fullID := key.Ref()
	if c.visited[fullID] {
		return
	}
	c.visited[fullID] = true

	// The bundle gets its own deep copy; later rewrite passes must never
	// touch the library's instance. The scan runs over the copy so the
	// recursion sees exactly what the bundle holds.
	clone := fhir.CloneResource(resource)
	c.entries = append(c.entries, fhir.BundleEntry{FullURL: fullID, Resource: clone})

	for _, ref := range sortedKeys(c.scanner.Scan(clone)) {
		if c.visited[ref.Ref()] {
			continue
		}
		c.Include(ref)
	}
}

// Entries returns the accumulated entries in depth-first pre-order.
func (c *Closure) Entries() []fhir.BundleEntry {
	return c.entries
}

// Missing returns the dangling references recorded so far, ordered by type
// then id.
func (c *Closure) Missing() []fhir.Key {
	return sortedKeys(c.missing)
}

func sortedKeys(set map[fhir.Key]bool) []fhir.Key {
	keys := make([]fhir.Key, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].ID < keys[j].ID
	})
	return keys
}
