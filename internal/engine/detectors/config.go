package detectors

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:embed patterns.schema.json
var patternsSchema []byte

var compiledSchema = mustCompileSchema(patternsSchema)

func mustCompileSchema(raw []byte) *jsonschema.Schema {
	var schemaObj any
	if err := json.Unmarshal(raw, &schemaObj); err != nil {
		panic(fmt.Sprintf("patterns schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("patterns.schema.json", schemaObj); err != nil {
		panic(fmt.Sprintf("patterns schema: %v", err))
	}
	sch, err := c.Compile("patterns.schema.json")
	if err != nil {
		panic(fmt.Sprintf("patterns schema: %v", err))
	}
	return sch
}

// LoadConfig reads a YAML pattern file from disk.
func LoadConfig(path string) (PatternConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return PatternConfig{}, fmt.Errorf("read patterns file: %w", err)
	}
	return ParseConfig(raw)
}

// ParseConfig decodes YAML pattern tables and validates them against the
// embedded JSON schema before decoding into a PatternConfig.
func ParseConfig(raw []byte) (PatternConfig, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return PatternConfig{}, fmt.Errorf("parse patterns yaml: %w", err)
	}

	// Round-trip through JSON so the validator sees JSON-native types.
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return PatternConfig{}, fmt.Errorf("patterns yaml is not JSON-compatible: %w", err)
	}
	var inst any
	if err := json.Unmarshal(asJSON, &inst); err != nil {
		return PatternConfig{}, fmt.Errorf("patterns yaml is not JSON-compatible: %w", err)
	}
	if err := compiledSchema.Validate(inst); err != nil {
		return PatternConfig{}, fmt.Errorf("patterns schema validation failed: %w", err)
	}

	var cfg PatternConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return PatternConfig{}, fmt.Errorf("decode patterns: %w", err)
	}
	return cfg, nil
}

// LoadScanner compiles the pattern file at path, or the built-in tables
// when path is empty.
func LoadScanner(path string) (*Scanner, error) {
	if path == "" {
		return DefaultScanner(), nil
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return Compile(cfg)
}
