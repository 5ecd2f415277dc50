package oracle

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// CatalogType describes a library type the oracle knows without sources.
type CatalogType struct {
	Name       string            `yaml:"name"`
	Supertypes []string          `yaml:"supertypes,omitempty"`
	Methods    map[string]string `yaml:"methods,omitempty"` // name -> return type, any arity
	Fields     map[string]string `yaml:"fields,omitempty"`  // name -> field type
}

type catalogFile struct {
	Types []CatalogType `yaml:"types"`
}

// ParseCatalog parses a YAML catalog document.
func ParseCatalog(data []byte) ([]CatalogType, error) {
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parsing type catalog: %w", err)
	}
	for i, t := range cf.Types {
		if t.Name == "" {
			return nil, fmt.Errorf("type catalog entry %d: missing name", i)
		}
	}
	return cf.Types, nil
}

// DefaultCatalog returns the built-in library catalog.
func DefaultCatalog() []CatalogType {
	types, err := ParseCatalog(catalogYAML)
	if err != nil {
		panic(err)
	}
	return types
}
