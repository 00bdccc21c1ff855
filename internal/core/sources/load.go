// Package sources loads the contact source registry from YAML.
package sources

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/JonMunkholm/prospects/internal/core"
)

//go:embed sources.yaml
var defaultSources []byte

// File is the on-disk shape of a source registry.
type File struct {
	Sources []core.SourceDefinition `yaml:"sources"`
}

// Default returns the registry built into the binary.
func Default() (*core.SourceRegistry, error) {
	return Parse(defaultSources)
}

// Load reads a registry from path. An empty path returns Default.
func Load(path string) (*core.SourceRegistry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.ConfigurationError{Component: "sources", Message: "read " + path, Err: err}
	}
	return Parse(data)
}

// Parse decodes YAML and validates the result. Unknown keys and any
// registry problem are ConfigurationErrors.
func Parse(data []byte) (*core.SourceRegistry, error) {
	var f File
	if err := yaml.UnmarshalWithOptions(data, &f, yaml.Strict()); err != nil {
		return nil, &core.ConfigurationError{Component: "sources", Message: "parse yaml", Err: err}
	}
	reg, err := core.NewSourceRegistry(f.Sources)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	return reg, nil
}
