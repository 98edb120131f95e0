package library

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirSource loads a library from a directory of JSON files named
// <Prefix>*.json. Each file holds either a Bundle, whose entry resources are
// all indexed, or a single resource.
type DirSource struct {
	Dir    string
	Prefix string
}

// Load implements Source. A missing directory degrades to an empty index with
// a warning so synthetic-only runs stay possible; read errors on the
// directory itself are returned as errors.
func (s DirSource) Load(ctx context.Context) (*Index, []Warning, error) {
	return LoadDirectory(s.Dir, s.Prefix)
}

// LoadDirectory builds an index from the matching files under dir.
func LoadDirectory(dir, prefix string) (*Index, []Warning, error) {
	ix := NewIndex()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return ix, []Warning{{Source: dir, Reason: "library directory does not exist"}}, nil
		}
		return nil, nil, fmt.Errorf("read library directory: %w", err)
	}

	var warnings []Warning
	matched := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		matched++

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			warnings = append(warnings, Warning{Source: name, Reason: "read: " + err.Error()})
			continue
		}
		warnings = append(warnings, indexDocument(ix, name, data)...)
	}

	if matched == 0 {
		warnings = append(warnings, Warning{
			Source: dir,
			Reason: fmt.Sprintf("no files matching %s*.json", prefix),
		})
	}
	return ix, warnings, nil
}

// indexDocument indexes one JSON document, bundle or single resource.
func indexDocument(ix *Index, source string, data []byte) []Warning {
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return []Warning{{Source: source, Reason: "cannot parse: " + err.Error()}}
	}

	rt, _ := doc["resourceType"].(string)
	if rt == "Bundle" {
		if entries, ok := doc["entry"].([]interface{}); ok {
			var warnings []Warning
			for i, e := range entries {
				em, ok := e.(map[string]interface{})
				if !ok {
					continue
				}
				resource, ok := em["resource"].(map[string]interface{})
				if !ok {
					continue
				}
				if _, err := ix.Add(resource); err != nil {
					warnings = append(warnings, Warning{
						Source: fmt.Sprintf("%s entry[%d]", source, i),
						Reason: err.Error(),
					})
				}
			}
			return warnings
		}
	}

	if rt != "" {
		if _, err := ix.Add(doc); err != nil {
			return []Warning{{Source: source, Reason: err.Error()}}
		}
		return nil
	}
	return []Warning{{Source: source, Reason: "unrecognized structure"}}
}
