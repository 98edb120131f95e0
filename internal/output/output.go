// Package output persists assembled document bundles as timestamped JSON
// artifacts.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bundleforge/bundleforge/internal/platform/fhir"
)

const stampLayout = "20060102T150405Z"

// Write serializes the bundle into dir as bundle_<UTC stamp>.json, creating
// dir if needed. Same-second collisions get a numeric suffix so consecutive
// writes never clobber each other.
func Write(dir string, bundle *fhir.Bundle) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	stamp := time.Now().UTC().Format(stampLayout)
	path := filepath.Join(dir, fmt.Sprintf("bundle_%s.json", stamp))
	for n := 2; fileExists(path); n++ {
		path = filepath.Join(dir, fmt.Sprintf("bundle_%s_%d.json", stamp, n))
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(bundle); err != nil {
		return "", fmt.Errorf("encode bundle: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("flush artifact: %w", err)
	}
	return path, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
