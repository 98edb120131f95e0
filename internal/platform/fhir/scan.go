package fhir

// Scanner extracts the set of resource keys a resource refers to. The scan is
// purely structural: it recurses through objects and arrays and tests every
// string value against the reference grammar, so references are found wherever
// they occur, not only under attributes named "reference".
type Scanner struct {
	// ReferenceFieldsOnly restricts matching to attributes literally named
	// "reference". Cuts false positives from URL-shaped strings (system
	// URIs, profile canonicals) at the cost of missing loosely-placed
	// references.
	ReferenceFieldsOnly bool
}

// Scan walks the resource and returns every referenced key exactly once.
// The resource is never modified.
func (s *Scanner) Scan(resource map[string]interface{}) map[Key]bool {
	refs := make(map[Key]bool)
	s.walk(resource, "", refs)
	return refs
}

func (s *Scanner) walk(v interface{}, attr string, refs map[Key]bool) {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, item := range val {
			s.walk(item, k, refs)
		}
	case []interface{}:
		for _, item := range val {
			s.walk(item, attr, refs)
		}
	case string:
		if s.ReferenceFieldsOnly && attr != "reference" {
			return
		}
		if key, ok := MatchRef(val); ok {
			refs[key] = true
		}
	}
}
