// Package templates loads the catalogue of fix types, project types and
// their default step checklists.
package templates

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultCatalog []byte

// ProjectType is one job within a fix type and its ordered steps.
type ProjectType struct {
	Name  string   `yaml:"name" json:"name"`
	Steps []string `yaml:"steps" json:"steps"`
}

// FixType groups related project types.
type FixType struct {
	Name         string        `yaml:"name" json:"name"`
	ProjectTypes []ProjectType `yaml:"projectTypes" json:"projectTypes"`
}

// Catalog is the ordered list of fix types.
type Catalog struct {
	FixTypes []FixType `yaml:"fixTypes" json:"fixTypes"`
}

// Default returns the built-in catalogue.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalogue from path, or the built-in one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading templates %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalogue.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	seen := map[string]bool{}
	for _, ft := range c.FixTypes {
		key := strings.ToLower(ft.Name)
		if ft.Name == "" || seen[key] {
			return fmt.Errorf("templates: empty or duplicate fix type %q", ft.Name)
		}
		seen[key] = true
		for _, pt := range ft.ProjectTypes {
			if pt.Name == "" || len(pt.Steps) == 0 {
				return fmt.Errorf("templates: project type %q under %s has no steps", pt.Name, ft.Name)
			}
		}
	}
	return nil
}

// Steps returns a copy of the default steps for a fix and project type.
// Names match case-insensitively.
func (c *Catalog) Steps(fixType, projectType string) ([]string, bool) {
	for _, ft := range c.FixTypes {
		if !strings.EqualFold(ft.Name, fixType) {
			continue
		}
		for _, pt := range ft.ProjectTypes {
			if strings.EqualFold(pt.Name, projectType) {
				return append([]string(nil), pt.Steps...), true
			}
		}
	}
	return nil, false
}
