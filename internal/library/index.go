// Package library loads and indexes the seed resources that bundle
// generation draws from.
package library

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/bundleforge/bundleforge/internal/platform/fhir"
)

// Warning describes a library input that was skipped instead of indexed.
// Sources return warnings as data; presenting them is the caller's job.
type Warning struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// Source produces a resource index plus the warnings gathered while loading.
type Source interface {
	Load(ctx context.Context) (*Index, []Warning, error)
}

// Index holds every loaded resource keyed by (type, id), with a reverse index
// from type to keys. Built once per run and consumed read-only afterwards:
// builds share it across goroutines without locking.
type Index struct {
	resources    map[fhir.Key]map[string]interface{}
	keysByType   map[string][]fhir.Key
	compositions []fhir.Key
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		resources:  make(map[fhir.Key]map[string]interface{}),
		keysByType: make(map[string][]fhir.Key),
	}
}

// Add indexes a resource body, assigning a fresh UUID id when the body has
// none. Re-adding an existing key replaces the stored body without growing
// the type index.
func (ix *Index) Add(resource map[string]interface{}) (fhir.Key, error) {
	rt, _ := resource["resourceType"].(string)
	if rt == "" {
		return fhir.Key{}, errors.New("resource has no resourceType")
	}
	id, _ := resource["id"].(string)
	if id == "" {
		id = uuid.NewString()
		resource["id"] = id
	}

	key := fhir.Key{Type: rt, ID: id}
	if _, exists := ix.resources[key]; !exists {
		ix.keysByType[rt] = append(ix.keysByType[rt], key)
		if rt == "Composition" {
			ix.compositions = append(ix.compositions, key)
		}
	}
	ix.resources[key] = resource
	return key, nil
}

// Get returns the stored body for key.
func (ix *Index) Get(key fhir.Key) (map[string]interface{}, bool) {
	r, ok := ix.resources[key]
	return r, ok
}

// Has reports whether key is indexed.
func (ix *Index) Has(key fhir.Key) bool {
	_, ok := ix.resources[key]
	return ok
}

// Keys returns the keys of one resource type in insertion order. Callers must
// not modify the returned slice.
func (ix *Index) Keys(resourceType string) []fhir.Key {
	return ix.keysByType[resourceType]
}

// Types returns the indexed resource types, sorted.
func (ix *Index) Types() []string {
	types := make([]string, 0, len(ix.keysByType))
	for rt := range ix.keysByType {
		types = append(types, rt)
	}
	sort.Strings(types)
	return types
}

// AllKeys returns every indexed key, grouped by sorted type, insertion order
// within a type. The order is stable for a given load.
func (ix *Index) AllKeys() []fhir.Key {
	keys := make([]fhir.Key, 0, len(ix.resources))
	for _, rt := range ix.Types() {
		keys = append(keys, ix.keysByType[rt]...)
	}
	return keys
}

// CountByType returns the number of indexed resources per type.
func (ix *Index) CountByType() map[string]int {
	counts := make(map[string]int, len(ix.keysByType))
	for rt, keys := range ix.keysByType {
		counts[rt] = len(keys)
	}
	return counts
}

// Compositions returns the keys of seed Compositions found while loading.
// Seed compositions are inventory only; generation never re-emits them as
// document roots.
func (ix *Index) Compositions() []fhir.Key {
	return ix.compositions
}

// Len returns the number of indexed resources.
func (ix *Index) Len() int {
	return len(ix.resources)
}
