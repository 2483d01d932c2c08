// Package loader reads model files into a model.Spec.
//
// Two formats are supported, chosen by file extension: YAML (.yaml, .yml),
// decoded strictly so that misspelt keys are rejected, and HCL (.hcl), whose
// attributes may reference variables as var.NAME.
package loader

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/layeredqueuing/lqsim/sim/model"
)

// Load reads the model file at path. vars are HCL variables; YAML files
// ignore them.
func Load(path string, vars map[string]string) (*model.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".hcl":
		return ParseHCL(data, path, vars)
	default:
		return nil, fmt.Errorf("unknown model format %q; valid: .yaml, .yml, .hcl", ext)
	}
}

// ParseYAML decodes a YAML model. Uses strict parsing: unrecognized keys
// (typos) are rejected.
func ParseYAML(data []byte) (*model.Spec, error) {
	var spec model.Spec
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parsing model: %w", err)
	}
	return &spec, nil
}
