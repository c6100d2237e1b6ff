// Package prompts provides the prompt registry: named text/template prompts
// loaded from YAML, with built-in defaults embedded in the binary.
package prompts

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// NotFoundError is returned for an unknown prompt key.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("prompt %q not found", e.Key)
}

type promptFile struct {
	Prompts map[string]string `yaml:"prompts"`
}

// Registry renders named prompt templates. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// NewRegistry creates a registry holding only the built-in prompts.
func NewRegistry() (*Registry, error) {
	r := &Registry{templates: make(map[string]*template.Template)}
	if err := r.LoadYAML(defaultsYAML); err != nil {
		return nil, fmt.Errorf("built-in prompts: %w", err)
	}
	return r, nil
}

// MustDefault returns the built-in registry and panics if it cannot be parsed.
func MustDefault() *Registry {
	r, err := NewRegistry()
	if err != nil {
		panic(err)
	}
	return r
}

// LoadFile overlays prompts from a YAML file on fs.
func (r *Registry) LoadFile(fs afero.Fs, path string) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("failed to read prompts file: %w", err)
	}
	if err := r.LoadYAML(data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// LoadYAML overlays prompts from YAML data. Keys already present are
// replaced. Nothing is changed if any template fails to parse.
func (r *Registry) LoadYAML(data []byte) error {
	var file promptFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("invalid prompts yaml: %w", err)
	}

	parsed := make(map[string]*template.Template, len(file.Prompts))
	for key, text := range file.Prompts {
		tmpl, err := template.New(key).
			Option("missingkey=error").
			Funcs(funcs).
			Parse(text)
		if err != nil {
			return fmt.Errorf("prompt %q: %w", key, err)
		}
		parsed[key] = tmpl
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for k, t := range parsed {
		r.templates[k] = t
	}
	return nil
}

// Get renders the prompt key with data.
func (r *Registry) Get(key string, data map[string]any) (string, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[key]
	r.mu.RUnlock()
	if !ok {
		return "", &NotFoundError{Key: key}
	}

	if data == nil {
		data = map[string]any{}
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", key, err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[key]
	return ok
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.templates))
	for k := range r.templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var funcs = template.FuncMap{
	"numbered": numbered,
}

// numbered renders items as a 1-based numbered list, or "(none)".
func numbered(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for i, item := range items {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d. %s", i+1, item)
	}
	return sb.String()
}
