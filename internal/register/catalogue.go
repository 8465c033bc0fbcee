// internal/register/catalogue.go
package register

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalogue is the ordered register table, keyed by symbolic name.
type Catalogue struct {
	specs  []Spec
	byName map[string]int
}

// NewCatalogue validates and indexes specs. Order is preserved.
func NewCatalogue(specs []Spec) (*Catalogue, error) {
	c := &Catalogue{byName: make(map[string]int, len(specs))}

	for i, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("register table: entry %d has no name", i)
		}
		if _, dup := c.byName[s.Name]; dup {
			return nil, fmt.Errorf("register table: duplicate name %q", s.Name)
		}
		if s.Type == "" {
			s.Type = U16
		}
		if !s.Type.valid() {
			return nil, fmt.Errorf("register table: %q has unknown type %q", s.Name, s.Type)
		}
		if s.Gain < 0 {
			return nil, fmt.Errorf("register table: %q has negative gain", s.Name)
		}
		if s.Range != nil && s.Range.Min > s.Range.Max {
			return nil, fmt.Errorf("register table: %q range min > max", s.Name)
		}
		c.byName[s.Name] = len(c.specs)
		c.specs = append(c.specs, s)
	}

	return c, nil
}

// Load reads a YAML register table (a list of Spec entries).
func Load(path string) (*Catalogue, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var specs []Spec
	if err := yaml.Unmarshal(b, &specs); err != nil {
		return nil, fmt.Errorf("register table %s: %w", path, err)
	}
	if len(specs) == 0 {
		return nil, errors.New("register table: no entries")
	}
	return NewCatalogue(specs)
}

// Lookup returns the spec registered under name.
func (c *Catalogue) Lookup(name string) (Spec, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Spec{}, false
	}
	return c.specs[i], true
}

// MustLookup is Lookup for names already checked by config validation.
func (c *Catalogue) MustLookup(name string) Spec {
	s, ok := c.Lookup(name)
	if !ok {
		panic("register: unknown register " + name)
	}
	return s
}

// Resolve maps names to specs, failing on the first unknown name.
func (c *Catalogue) Resolve(names ...string) ([]Spec, error) {
	out := make([]Spec, 0, len(names))
	for _, n := range names {
		s, ok := c.Lookup(n)
		if !ok {
			return nil, fmt.Errorf("register table: unknown register %q", n)
		}
		out = append(out, s)
	}
	return out, nil
}

// All returns the specs in table order.
func (c *Catalogue) All() []Spec {
	out := make([]Spec, len(c.specs))
	copy(out, c.specs)
	return out
}

func (c *Catalogue) Len() int { return len(c.specs) }
