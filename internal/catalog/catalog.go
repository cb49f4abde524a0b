// Package catalog holds the experience and feature module definitions the
// session can load, read from YAML.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/tomz197/skirmish/internal/experience"
	"github.com/tomz197/skirmish/internal/feature"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// File is the on-disk catalog layout.
type File struct {
	LoadDelay   time.Duration     `yaml:"load_delay"`
	Experiences []ExperienceEntry `yaml:"experiences"`
	Modules     []ModuleEntry     `yaml:"modules"`
}

// ExperienceEntry is one experience in the catalog file.
type ExperienceEntry struct {
	ID              string   `yaml:"id"`
	Description     string   `yaml:"description"`
	DefaultTemplate string   `yaml:"default_template"`
	Features        []string `yaml:"features"`
}

// ModuleEntry is one feature module in the catalog file.
type ModuleEntry struct {
	Name          string        `yaml:"name"`
	ActivateDelay time.Duration `yaml:"activate_delay"`
	Fail          bool          `yaml:"fail"`
	FailReason    string        `yaml:"fail_reason"`
}

// Catalog is a parsed, immutable catalog.
type Catalog struct {
	loadDelay   time.Duration
	experiences map[experience.ID]*experience.Definition
	modules     map[string]feature.Spec
}

// Parse decodes and checks a catalog.
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{
		loadDelay:   f.LoadDelay,
		experiences: make(map[experience.ID]*experience.Definition, len(f.Experiences)),
		modules:     make(map[string]feature.Spec, len(f.Modules)),
	}
	if c.loadDelay < 0 {
		return nil, errors.New("load_delay cannot be negative")
	}

	for _, m := range f.Modules {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return nil, errors.New("module with empty name")
		}
		if _, dup := c.modules[name]; dup {
			return nil, fmt.Errorf("duplicate module %q", name)
		}
		if m.ActivateDelay < 0 {
			return nil, fmt.Errorf("module %q: activate_delay cannot be negative", name)
		}
		c.modules[name] = feature.Spec{
			Name:          name,
			ActivateDelay: m.ActivateDelay,
			Fail:          m.Fail,
			FailReason:    m.FailReason,
		}
	}

	for _, e := range f.Experiences {
		id, err := experience.ParseID(e.ID)
		if err != nil {
			return nil, err
		}
		if _, dup := c.experiences[id]; dup {
			return nil, fmt.Errorf("duplicate experience %q", id)
		}
		c.experiences[id] = &experience.Definition{
			ID:              id,
			Description:     e.Description,
			DefaultTemplate: e.DefaultTemplate,
			Features:        slices.Clone(e.Features),
		}
	}

	return c, nil
}

// LoadFile reads and parses a catalog file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// Definition returns a copy of the experience definition.
func (c *Catalog) Definition(id experience.ID) (*experience.Definition, bool) {
	def, ok := c.experiences[id]
	if !ok {
		return nil, false
	}
	return def.Clone(), true
}

// Has reports whether the catalog defines id.
func (c *Catalog) Has(id experience.ID) bool {
	_, ok := c.experiences[id]
	return ok
}

// ModuleSpec implements feature.SpecSource.
func (c *Catalog) ModuleSpec(name string) (feature.Spec, bool) {
	spec, ok := c.modules[name]
	return spec, ok
}

// LoadDelay is the simulated resource load latency.
func (c *Catalog) LoadDelay() time.Duration {
	return c.loadDelay
}

// Experiences returns the defined experience IDs sorted by name.
func (c *Catalog) Experiences() []experience.ID {
	ids := make([]experience.ID, 0, len(c.experiences))
	for id := range c.experiences {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b experience.ID) int { return strings.Compare(a.Name, b.Name) })
	return ids
}

// Problems lists references that will fail at load time: experiences naming
// modules the catalog does not define.
func (c *Catalog) Problems() []string {
	var out []string
	for _, id := range c.Experiences() {
		for _, name := range c.experiences[id].Features {
			if _, ok := c.modules[name]; !ok {
				out = append(out, fmt.Sprintf("%s: unknown feature module %q", id, name))
			}
		}
	}
	return out
}
