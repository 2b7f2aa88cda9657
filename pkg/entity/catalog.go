package entity

import (
	"fmt"

	"github.com/ajitpratap0/deanslist-sync/pkg/errors"
)

// Catalog is the immutable set of definitions for a run, plus the
// dependency graph between them.
type Catalog struct {
	defs   []*Definition
	byName map[string]*Definition
}

// NewCatalog validates the definitions and wires nested entities to their
// parents. Nested entities implicitly depend on their parent.
func NewCatalog(defs ...*Definition) (*Catalog, error) {
	c := &Catalog{
		defs:   make([]*Definition, 0, len(defs)),
		byName: make(map[string]*Definition, len(defs)),
	}

	for _, d := range defs {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byName[d.Name]; dup {
			return nil, errors.Configuration(fmt.Sprintf("entity %s declared twice", d.Name))
		}
		c.byName[d.Name] = d
		c.defs = append(c.defs, d)
	}

	for _, d := range c.defs {
		if d.Parent == "" {
			continue
		}
		parent, ok := c.byName[d.Parent]
		if !ok {
			return nil, errors.Configuration(fmt.Sprintf("nested entity %s references unknown parent %s", d.Name, d.Parent))
		}
		if parent.IdentityColumn == "" {
			return nil, errors.Configuration(fmt.Sprintf("parent %s of %s has no identity column", parent.Name, d.Name))
		}
		if parent.Parent != "" {
			return nil, errors.Configuration(fmt.Sprintf("parent %s of %s is itself nested", parent.Name, d.Name))
		}
		d.kind = KindNested
		parent.kind = KindParent
		if !contains(d.DependsOn, parent.Name) {
			d.DependsOn = append(d.DependsOn, parent.Name)
		}
	}

	for _, d := range c.defs {
		for _, dep := range d.DependsOn {
			if _, ok := c.byName[dep]; !ok {
				return nil, errors.Configuration(fmt.Sprintf("entity %s depends on unknown entity %s", d.Name, dep))
			}
		}
	}

	if _, err := c.Schedule(); err != nil {
		return nil, err
	}
	return c, nil
}

// All returns the definitions in declaration order.
func (c *Catalog) All() []*Definition {
	out := make([]*Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Lookup returns the named definition.
func (c *Catalog) Lookup(name string) (*Definition, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// Children returns the nested entities extracted from parent's payload,
// in declaration order.
func (c *Catalog) Children(parent string) []*Definition {
	var out []*Definition
	for _, d := range c.defs {
		if d.Parent == parent {
			out = append(out, d)
		}
	}
	return out
}

// Schedule returns every definition in a topological order of DependsOn.
// Ties are broken by declaration order so the schedule is stable.
func (c *Catalog) Schedule() ([]*Definition, error) {
	indegree := make(map[string]int, len(c.defs))
	for _, d := range c.defs {
		indegree[d.Name] += 0
		for range d.DependsOn {
			indegree[d.Name]++
		}
	}

	order := make([]*Definition, 0, len(c.defs))
	done := make(map[string]bool, len(c.defs))

	for len(order) < len(c.defs) {
		progressed := false
		for _, d := range c.defs {
			if done[d.Name] || indegree[d.Name] > 0 {
				continue
			}
			done[d.Name] = true
			order = append(order, d)
			progressed = true
			for _, other := range c.defs {
				if contains(other.DependsOn, d.Name) {
					indegree[other.Name]--
				}
			}
			// Restart from the top so earlier declarations win ties.
			break
		}
		if !progressed {
			return nil, errors.Configuration("entity dependency graph has a cycle")
		}
	}

	return order, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
