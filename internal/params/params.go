// Package params loads job parameters from YAML files. Parameters are
// free-form key/value data passed to every task of a job; the engine stores
// them with the job snapshot so an interrupted run resumes with the exact
// parameters it started with.
package params

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML file and returns its top-level mapping.
func Load(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter file %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes YAML into a parameter map. The document must be a mapping
// with string keys; an empty document yields an empty map.
func Parse(raw []byte) (map[string]any, error) {
	var out map[string]any
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode parameters: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// Merge overlays b on top of a without mutating either. Keys present in
// both take b's value.
func Merge(a, b map[string]any) map[string]any {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	merged := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		merged[k] = v
	}
	for k, v := range b {
		merged[k] = v
	}
	return merged
}
