package fhir

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// NormalizeIdentity rewrites, in place, every string under root that starts
// with the identity type's reference prefix ("Patient/") to the canonical
// reference. Attribute names are ignored on purpose: stray identity references
// hide in extensions and display-ish fields, not only under "reference".
// The rewrite is idempotent; a second pass is a no-op.
func NormalizeIdentity(root interface{}, identityType, canonicalRef string) {
	if identityType == "" || canonicalRef == "" {
		return
	}
	rewritePrefix(root, identityType+"/", canonicalRef)
}

func rewritePrefix(v interface{}, prefix, replacement string) {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, item := range val {
			if s, ok := item.(string); ok {
				if strings.HasPrefix(s, prefix) {
					val[k] = replacement
				}
				continue
			}
			rewritePrefix(item, prefix, replacement)
		}
	case []interface{}:
		for i, item := range val {
			if s, ok := item.(string); ok {
				if strings.HasPrefix(s, prefix) {
					val[i] = replacement
				}
				continue
			}
			rewritePrefix(item, prefix, replacement)
		}
	}
}

// LoadReferenceMap reads a flat JSON object file mapping old references to
// new ones, for use with ApplyReferenceMap.
func LoadReferenceMap(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference map: %w", err)
	}
	var mapping map[string]string
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("parse reference map %s: %w", path, err)
	}
	return mapping, nil
}

// ApplyReferenceMap replaces reference values under root according to mapping
// (old reference to new reference). Unlike NormalizeIdentity it touches only
// attributes literally named "reference"; equal strings elsewhere pass
// through untouched.
func ApplyReferenceMap(root interface{}, mapping map[string]string) {
	if len(mapping) == 0 {
		return
	}
	switch val := root.(type) {
	case map[string]interface{}:
		for k, item := range val {
			if s, ok := item.(string); ok {
				if k == "reference" {
					if repl, ok := mapping[s]; ok {
						val[k] = repl
					}
				}
				continue
			}
			ApplyReferenceMap(item, mapping)
		}
	case []interface{}:
		for _, item := range val {
			ApplyReferenceMap(item, mapping)
		}
	}
}
