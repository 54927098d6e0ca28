// Package manifest reads batch files: one operation and the items to run it on.
//
//	operation: phase_coherence
//	weight: 20            # optional default for every item
//	items:
//	  - name: subject-01
//	    payload: {signal: s01.csv, surrogates: 20}
//	  - name: subject-02
//	    payload_file: payloads/s02.json
//	    weight: 40
//
// A string payload is passed to the worker verbatim; any other YAML value is
// encoded as JSON.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "github.com/goccy/go-yaml"

	"sigbatch/internal/task/coordinator"
)

type Manifest struct {
	Operation string `yaml:"operation"`
	Weight    int    `yaml:"weight,omitempty"`
	Items     []Item `yaml:"items"`

	// dir resolves payload_file entries.
	dir string
}

type Item struct {
	Name        string `yaml:"name,omitempty"`
	Payload     any    `yaml:"payload,omitempty"`
	PayloadFile string `yaml:"payload_file,omitempty"`
	Weight      int    `yaml:"weight,omitempty"`
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// Parse decodes a YAML (or JSON) manifest. Unknown keys are rejected.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.UnmarshalWithOptions(data, &m, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	m.Operation = strings.TrimSpace(m.Operation)
	if m.Operation == "" {
		return nil, errors.New("manifest: operation is required")
	}
	if len(m.Items) == 0 {
		return nil, errors.New("manifest: at least one item is required")
	}
	if m.Weight < 0 {
		return nil, errors.New("manifest: weight must be >= 0")
	}
	for i, it := range m.Items {
		if it.Weight < 0 {
			return nil, fmt.Errorf("manifest: items[%d].weight must be >= 0", i)
		}
		if it.Payload != nil && it.PayloadFile != "" {
			return nil, fmt.Errorf("manifest: items[%d]: payload and payload_file are exclusive", i)
		}
	}
	return &m, nil
}

// Request converts the manifest to a coordinator request. The manifest-level
// weight fills in items without their own weight.
func (m *Manifest) Request() (coordinator.Request, error) {
	req := coordinator.Request{Operation: m.Operation, Items: make([]coordinator.Item, len(m.Items))}
	for i, it := range m.Items {
		payload, err := m.payload(it)
		if err != nil {
			return coordinator.Request{}, fmt.Errorf("items[%d]: %w", i, err)
		}
		w := it.Weight
		if w == 0 {
			w = m.Weight
		}
		req.Items[i] = coordinator.Item{Name: it.Name, Payload: payload, Weight: w}
	}
	return req, nil
}

func (m *Manifest) payload(it Item) ([]byte, error) {
	if it.PayloadFile != "" {
		p := it.PayloadFile
		if !filepath.IsAbs(p) && m.dir != "" {
			p = filepath.Join(m.dir, p)
		}
		return os.ReadFile(p)
	}
	switch v := it.Payload.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(normalize(v))
	}
}

// normalize turns map[any]any (which encoding/json rejects) into
// map[string]any, recursively.
func normalize(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalize(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalize(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	default:
		return in
	}
}
