package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadResolvesPayloads(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "payloads"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "payloads", "s02.json"), []byte(`{"signal":"s02.csv"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	src := `
operation: phase_coherence
weight: 20
items:
  - name: subject-01
    payload: {signal: s01.csv, surrogates: 20}
  - name: subject-02
    payload_file: payloads/s02.json
    weight: 40
  - name: raw
    payload: "0.1 0.2 0.3"
`
	path := filepath.Join(dir, "batch.yaml")
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatal(err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	req, err := m.Request()
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if req.Operation != "phase_coherence" || len(req.Items) != 3 {
		t.Fatalf("req = %+v", req)
	}

	var p map[string]any
	if err := json.Unmarshal(req.Items[0].Payload, &p); err != nil {
		t.Fatalf("item 0 payload %q: %v", req.Items[0].Payload, err)
	}
	if p["signal"] != "s01.csv" {
		t.Fatalf("item 0 payload = %v", p)
	}
	if req.Items[0].Weight != 20 || req.Items[1].Weight != 40 {
		t.Fatalf("weights = %d, %d", req.Items[0].Weight, req.Items[1].Weight)
	}
	if string(req.Items[1].Payload) != `{"signal":"s02.csv"}` {
		t.Fatalf("item 1 payload = %q", req.Items[1].Payload)
	}
	if string(req.Items[2].Payload) != "0.1 0.2 0.3" {
		t.Fatalf("item 2 payload = %q", req.Items[2].Payload)
	}
}

func TestParseJSONManifest(t *testing.T) {
	t.Parallel()
	m, err := Parse([]byte(`{"operation":"bispectrum","items":[{"payload":"a"},{"payload":"b"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if m.Operation != "bispectrum" || len(m.Items) != 2 {
		t.Fatalf("m = %+v", m)
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, src, want string
	}{
		{"no operation", "items:\n  - payload: a\n", "operation"},
		{"no items", "operation: x\n", "item"},
		{"negative weight", "operation: x\nitems:\n  - weight: -1\n", "weight"},
		{"unknown key", "operation: x\nretries: 3\nitems:\n  - payload: a\n", "retries"},
		{"both payloads", "operation: x\nitems:\n  - payload: a\n    payload_file: b\n", "exclusive"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.src))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
