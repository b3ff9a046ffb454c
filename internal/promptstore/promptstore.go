// Package promptstore resolves named prompt templates to formatted text.
//
// Prompts live in per-domain YAML files (<domain>.yaml) where each top-level
// key is a prompt name mapping either to a template string or to a mapping
// with a "template" key. Templates use {name} placeholders.
package promptstore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// NotFoundError is returned when a domain or prompt name is unknown.
type NotFoundError struct {
	Domain string
	Name   string
}

func (e *NotFoundError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("prompt domain %q not found", e.Domain)
	}
	return fmt.Sprintf("prompt %q not found in domain %q", e.Name, e.Domain)
}

// MissingParamError is returned when a template references a placeholder
// that the caller did not supply.
type MissingParamError struct {
	Domain string
	Name   string
	Param  string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("missing template parameter %q for prompt %s.%s", e.Param, e.Domain, e.Name)
}

// Store holds prompt templates loaded from a directory. The cache is
// owned by the Store and refreshed only via Reload, never lazily.
type Store struct {
	dir     string
	prompts map[string]map[string]string // domain -> name -> template
}

// New creates a Store and loads all prompt files from dir. A missing
// directory yields an empty store, not an error, so callers can run
// with prompts supplied later via Reload.
func New(dir string) (*Store, error) {
	s := &Store{dir: dir}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads all prompt files from disk, replacing the cache.
func (s *Store) Reload() error {
	prompts := make(map[string]map[string]string)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("prompts directory not found", "dir", s.dir)
			s.prompts = prompts
			return nil
		}
		return fmt.Errorf("failed to read prompts directory %s: %w", s.dir, err)
	}

	for _, e := range entries {
		name := e.Name()
		ext := filepath.Ext(name)
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		domain := strings.TrimSuffix(name, ext)
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return fmt.Errorf("failed to read prompt file %s: %w", name, err)
		}

		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("failed to parse prompt file %s: %w", name, err)
		}

		templates := make(map[string]string, len(raw))
		for promptName, v := range raw {
			tmpl, err := templateText(v)
			if err != nil {
				return fmt.Errorf("invalid prompt %s.%s: %w", domain, promptName, err)
			}
			templates[promptName] = tmpl
		}

		prompts[domain] = templates
		slog.Debug("loaded prompt domain", "domain", domain, "prompts", len(templates))
	}

	s.prompts = prompts
	return nil
}

// templateText extracts the template string from a prompt entry, which
// may be a bare string or a mapping carrying a "template" or "prompt" key.
func templateText(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case map[string]any:
		if tmpl, ok := t["template"].(string); ok {
			return tmpl, nil
		}
		if tmpl, ok := t["prompt"].(string); ok {
			return tmpl, nil
		}
		return "", fmt.Errorf("mapping entry has no template key")
	default:
		return "", fmt.Errorf("unsupported entry type %T", v)
	}
}

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Get formats the named prompt with the given parameters. Every
// placeholder in the template must have a corresponding parameter;
// extra parameters are ignored.
func (s *Store) Get(domain, name string, params map[string]string) (string, error) {
	templates, ok := s.prompts[domain]
	if !ok {
		return "", &NotFoundError{Domain: domain}
	}
	tmpl, ok := templates[name]
	if !ok {
		return "", &NotFoundError{Domain: domain, Name: name}
	}

	var missing string
	out := placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		v, ok := params[key]
		if !ok {
			if missing == "" {
				missing = key
			}
			return m
		}
		return v
	})
	if missing != "" {
		return "", &MissingParamError{Domain: domain, Name: name, Param: missing}
	}

	return out, nil
}

// Validate checks that a prompt can be formatted with the given params.
func (s *Store) Validate(domain, name string, params map[string]string) error {
	_, err := s.Get(domain, name, params)
	return err
}

// Domains lists all loaded prompt domains, sorted.
func (s *Store) Domains() []string {
	names := make([]string, 0, len(s.prompts))
	for d := range s.prompts {
		names = append(names, d)
	}
	sort.Strings(names)
	return names
}

// Prompts lists all prompt names in a domain, sorted.
func (s *Store) Prompts(domain string) ([]string, error) {
	templates, ok := s.prompts[domain]
	if !ok {
		return nil, &NotFoundError{Domain: domain}
	}
	names := make([]string, 0, len(templates))
	for n := range templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}
