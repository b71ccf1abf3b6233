package registry

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// manifestFile is the YAML shape of a tool manifest. Timeouts are given in
// seconds so manifests stay readable.
type manifestFile struct {
	Tools []manifestTool `yaml:"tools"`
}

type manifestTool struct {
	Name           string      `yaml:"name"`
	Description    string      `yaml:"description"`
	Input          []FieldSpec `yaml:"input"`
	Output         []FieldSpec `yaml:"output"`
	TimeoutSeconds float64     `yaml:"timeout_seconds"`
	MaxRetries     int         `yaml:"max_retries"`
}

// LoadManifest parses tool schemas from a YAML manifest. The caller binds
// each schema to an executor and registers it; schemas without a matching
// executor are the caller's problem to skip or reject.
func LoadManifest(path string) ([]Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool manifest: %w", err)
	}
	var file manifestFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tool manifest: %w", err)
	}

	schemas := make([]Schema, 0, len(file.Tools))
	for _, t := range file.Tools {
		if !toolNameRe.MatchString(t.Name) {
			return nil, fmt.Errorf("tool manifest: invalid tool name %q", t.Name)
		}
		schemas = append(schemas, Schema{
			Name:        t.Name,
			Description: t.Description,
			Input:       t.Input,
			Output:      t.Output,
			Timeout:     time.Duration(t.TimeoutSeconds * float64(time.Second)),
			MaxRetries:  t.MaxRetries,
		})
	}
	return schemas, nil
}
