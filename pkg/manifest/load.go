package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileNames are the descriptor file names looked up in a module directory, in order
var FileNames = []string{"module.yaml", "module.yml", "module.json"}

// ErrNoManifest is returned when a directory contains no descriptor
var ErrNoManifest = errors.New("no module manifest found")

// Document is a descriptor read from disk together with its validation outcome
type Document struct {
	Path     string
	Raw      map[string]interface{}
	Result   Result
	Manifest *Manifest // nil unless Result.Valid
}

// Parse decodes descriptor bytes into the raw map form. JSON is detected by
// extension; everything else is read as YAML.
func Parse(data []byte, filename string) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if strings.EqualFold(filepath.Ext(filename), ".json") {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}
	return raw, nil
}

// LoadFile reads, validates and (when valid) decodes a descriptor file.
// Validation failures are reported in the Document, not as an error.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	raw, err := Parse(data, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	doc := &Document{Path: path, Raw: raw, Result: Validate(raw)}
	if doc.Result.Valid {
		m, err := Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		doc.Manifest = m
	}
	return doc, nil
}

// FindFile returns the descriptor path inside dir
func FindFile(dir string) (string, error) {
	for _, name := range FileNames {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoManifest, dir)
}

// LoadDir loads the descriptor of the module installed in dir
func LoadDir(dir string) (*Document, error) {
	path, err := FindFile(dir)
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// Decode converts a validated raw descriptor into a Manifest. Callers must
// validate first; Decode only reports shape errors the decoder itself hits.
func Decode(raw map[string]interface{}) (*Manifest, error) {
	data, err := Encode(raw)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	for i := range m.Routes {
		m.Routes[i].Method = strings.ToUpper(m.Routes[i].Method)
	}
	return &m, nil
}

// Encode renders a raw descriptor as the JSON stored on the module record
func Encode(raw map[string]interface{}) ([]byte, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return data, nil
}

// DecodeStored parses the stored JSON form back into its raw and typed forms
func DecodeStored(data []byte) (map[string]interface{}, *Manifest, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to parse stored manifest: %w", err)
	}
	m, err := Decode(raw)
	if err != nil {
		return nil, nil, err
	}
	return raw, m, nil
}
