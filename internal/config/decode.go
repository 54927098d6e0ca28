package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Load reads and decodes the config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(path, b)
}

// Decode strictly decodes a config and applies Validate. Files ending in
// .yaml or .yml are read as YAML, anything else as JSON. Both formats go
// through the same JSON decoder so unknown keys are rejected either way.
func Decode(path string, b []byte) (*Config, error) {
	format := "json"
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		format = "yaml"
		jb, err := yamlToJSON(b)
		if err != nil {
			return nil, err
		}
		b = jb
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s config: %w", format, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s config: trailing data after the config object", format)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// yamlToJSON accepts exactly one YAML document whose mapping keys are all
// strings.
func yamlToJSON(b []byte) ([]byte, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	var doc any
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("yaml config: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("yaml config: trailing data after the config object")
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	v, err := jsonValue("", doc)
	if err != nil {
		return nil, fmt.Errorf("yaml config: %w", err)
	}
	return json.Marshal(v)
}

func jsonValue(at string, in any) (any, error) {
	switch x := in.(type) {
	case map[string]any:
		for k, v := range x {
			cv, err := jsonValue(join(at, k), v)
			if err != nil {
				return nil, err
			}
			x[k] = cv
		}
		return x, nil
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%s: key %v is not a string", orRoot(at), k)
			}
			cv, err := jsonValue(join(at, ks), v)
			if err != nil {
				return nil, err
			}
			out[ks] = cv
		}
		return out, nil
	case []any:
		for i, v := range x {
			cv, err := jsonValue(fmt.Sprintf("%s[%d]", at, i), v)
			if err != nil {
				return nil, err
			}
			x[i] = cv
		}
		return x, nil
	}
	return in, nil
}

func join(at, k string) string {
	if at == "" {
		return k
	}
	return at + "." + k
}

func orRoot(at string) string {
	if at == "" {
		return "(root)"
	}
	return at
}
