package fhir

import (
	"time"

	"github.com/google/uuid"
)

// Bundle is an assembled FHIR document bundle. Entry bodies stay generic maps
// so identity rewriting and reference mapping can run over the final graph.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"`
	Identifier   *Identifier   `json:"identifier,omitempty"`
	Timestamp    string        `json:"timestamp,omitempty"`
	Entry        []BundleEntry `json:"entry"`
}

// Identifier is the bundle-level business identifier.
type Identifier struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

// BundleEntry pairs a resource body with its full identifier within the
// bundle. FullURL is a plain struct field, deliberately out of reach of the
// map walkers that rewrite resource bodies.
type BundleEntry struct {
	FullURL  string                 `json:"fullUrl,omitempty"`
	Resource map[string]interface{} `json:"resource,omitempty"`
}

// NewDocumentBundle creates an empty document bundle stamped with the given
// time and a fresh urn:uuid business identifier.
func NewDocumentBundle(now time.Time) *Bundle {
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "document",
		Identifier: &Identifier{
			System: "urn:ietf:rfc:3986",
			Value:  "urn:uuid:" + uuid.NewString(),
		},
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// Composition returns the bundle's root Composition body, or nil when the
// bundle is empty or its first entry is not a Composition.
func (b *Bundle) Composition() map[string]interface{} {
	if b == nil || len(b.Entry) == 0 {
		return nil
	}
	first := b.Entry[0].Resource
	if rt, _ := first["resourceType"].(string); rt != "Composition" {
		return nil
	}
	return first
}

// FullIDs returns the set of full identifiers present in the bundle, deriving
// an identifier from the resource body when an entry carries no fullUrl.
func (b *Bundle) FullIDs() map[string]bool {
	present := make(map[string]bool, len(b.Entry))
	for _, e := range b.Entry {
		if e.FullURL != "" {
			present[e.FullURL] = true
			continue
		}
		if key, ok := KeyOf(e.Resource); ok {
			present[key.Ref()] = true
		}
	}
	return present
}
