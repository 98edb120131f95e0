package fhir

import (
	"fmt"
	"regexp"

	"github.com/mohae/deepcopy"
)

// Key identifies a resource by type and logical id. It is comparable and is
// used as the map key for indexing, de-duplication, and claim tracking.
type Key struct {
	Type string
	ID   string
}

// Ref returns the symbolic "Type/id" reference for the key.
func (k Key) Ref() string {
	return k.Type + "/" + k.ID
}

func (k Key) String() string {
	return k.Ref()
}

// refPattern matches a symbolic FHIR reference token such as
// "Observation/12345". The start is unanchored so the token may terminate a
// longer value (an absolute URL, say), but nothing may follow it.
var refPattern = regexp.MustCompile(`([A-Za-z]+)/([A-Za-z0-9\-\._]+)$`)

// fullRefPattern requires the whole string to be a reference token.
var fullRefPattern = regexp.MustCompile(`^([A-Za-z]+)/([A-Za-z0-9\-\._]+)$`)

// ParseRef parses a full "Type/id" identifier. ok is false when any part of
// the string falls outside the reference grammar.
func ParseRef(ref string) (Key, bool) {
	m := fullRefPattern.FindStringSubmatch(ref)
	if m == nil {
		return Key{}, false
	}
	return Key{Type: m[1], ID: m[2]}, true
}

// MatchRef extracts the trailing "Type/id" token from a string, if any.
func MatchRef(s string) (Key, bool) {
	m := refPattern.FindStringSubmatch(s)
	if m == nil {
		return Key{}, false
	}
	return Key{Type: m[1], ID: m[2]}, true
}

// FormatReference creates a FHIR reference string.
func FormatReference(resourceType, id string) string {
	return fmt.Sprintf("%s/%s", resourceType, id)
}

// KeyOf extracts the key of a resource body. ok is false when resourceType or
// id is missing or empty.
func KeyOf(resource map[string]interface{}) (Key, bool) {
	rt, _ := resource["resourceType"].(string)
	id, _ := resource["id"].(string)
	if rt == "" || id == "" {
		return Key{}, false
	}
	return Key{Type: rt, ID: id}, true
}

// CloneResource returns a deep copy of a resource body so callers can rewrite
// the copy without touching the original instance.
func CloneResource(resource map[string]interface{}) map[string]interface{} {
	if resource == nil {
		return nil
	}
	cp, _ := deepcopy.Copy(resource).(map[string]interface{})
	return cp
}
