// Package schemastore manages JSON response schemas used to constrain
// model output. Schemas come from JSON files in a schema directory
// (key = filename without extension) and from inline YAML definitions
// in the configuration (key = "<type>.<name>"). File entries win on
// key collision.
package schemastore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store holds schema objects keyed by schema key. The cache is owned
// by the Store and refreshed only via Reload.
type Store struct {
	dir     string
	inline  map[string]map[string]string
	schemas map[string]map[string]any
}

// New creates a Store backed by the given schema directory and inline
// definitions, and performs an initial load.
func New(dir string, inline map[string]map[string]string) (*Store, error) {
	s := &Store{dir: dir, inline: inline}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload rebuilds the schema cache from inline definitions and the
// schema directory. Directory entries overwrite inline ones.
func (s *Store) Reload() error {
	schemas := make(map[string]map[string]any)

	for evalType, entries := range s.inline {
		for name, text := range entries {
			var obj map[string]any
			if err := yaml.Unmarshal([]byte(text), &obj); err != nil {
				return fmt.Errorf("failed to parse inline schema %s.%s: %w", evalType, name, err)
			}
			schemas[evalType+"."+name] = obj
		}
	}

	if s.dir != "" {
		entries, err := os.ReadDir(s.dir)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to read schema directory %s: %w", s.dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
				continue
			}
			data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
			if err != nil {
				return fmt.Errorf("failed to read schema file %s: %w", e.Name(), err)
			}
			var obj map[string]any
			if err := json.Unmarshal(data, &obj); err != nil {
				return fmt.Errorf("failed to parse schema file %s: %w", e.Name(), err)
			}
			key := strings.TrimSuffix(e.Name(), ".json")
			schemas[key] = obj
			slog.Debug("loaded schema file", "key", key)
		}
	}

	s.schemas = schemas
	return nil
}

// Get returns the schema for a key, or nil when no schema is registered.
// A nil return is a valid outcome: callers fall back to unconstrained
// generation.
func (s *Store) Get(key string) map[string]any {
	return s.schemas[key]
}

// Put registers a schema, persisting it to the schema directory when one
// is configured.
func (s *Store) Put(key string, schema map[string]any) error {
	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return fmt.Errorf("failed to create schema directory: %w", err)
		}
		data, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal schema %s: %w", key, err)
		}
		path := filepath.Join(s.dir, key+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write schema file %s: %w", path, err)
		}
	}
	s.schemas[key] = schema
	return nil
}

// Keys lists all registered schema keys, sorted.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.schemas))
	for k := range s.schemas {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateResponse checks that the decoded response carries every field
// the schema marks required. This is a structural sanity check, not full
// JSON Schema validation: the server is the enforcement point, and a
// missing schema simply means nothing to check against.
func (s *Store) ValidateResponse(data map[string]any, key string) bool {
	schema := s.Get(key)
	if schema == nil {
		slog.Warn("schema not found for validation", "key", key)
		return false
	}

	for _, f := range requiredFields(schema) {
		if _, ok := data[f]; !ok {
			slog.Error("response missing required field", "key", key, "field", f)
			return false
		}
	}
	return true
}

func requiredFields(schema map[string]any) []string {
	raw, ok := schema["required"].([]any)
	if !ok {
		return nil
	}
	fields := make([]string, 0, len(raw))
	for _, v := range raw {
		if f, ok := v.(string); ok {
			fields = append(fields, f)
		}
	}
	return fields
}
