package entity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ajitpratap0/deanslist-sync/pkg/errors"
)

// Tenant is one school whose data is partitioned by its API key.
type Tenant struct {
	Name   string `yaml:"name"`
	APIKey string `yaml:"api_key"`
	Active bool   `yaml:"active"`
}

// String never includes the API key.
func (t Tenant) String() string {
	return t.Name
}

// SelectTenants returns the active tenants of roster, restricted to names
// when names is non-empty. Names are matched case-insensitively and the
// result keeps roster order. When the roster lists a name more than once,
// the name counts as active if any of its rows is. Naming an unknown or
// inactive tenant, or ending up with no tenant at all, is a configuration
// error.
func SelectTenants(roster []Tenant, names []string) ([]Tenant, error) {
	active := make([]Tenant, 0, len(roster))
	byName := make(map[string]Tenant, len(roster))
	for _, t := range roster {
		key := strings.ToLower(t.Name)
		if prev, ok := byName[key]; !ok || !prev.Active {
			byName[key] = t
		}
		if t.Active {
			active = append(active, t)
		}
	}

	if len(names) == 0 {
		if len(active) == 0 {
			return nil, errors.Configuration("no active tenants found")
		}
		return active, nil
	}

	wanted := make(map[string]bool, len(names))
	var unknown, inactive []string
	for _, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		if key == "" {
			continue
		}
		t, ok := byName[key]
		switch {
		case !ok:
			unknown = append(unknown, n)
		case !t.Active:
			inactive = append(inactive, n)
		default:
			wanted[key] = true
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, errors.Configuration(fmt.Sprintf("unknown tenants: %s", strings.Join(unknown, ", ")))
	}
	if len(inactive) > 0 {
		sort.Strings(inactive)
		return nil, errors.Configuration(fmt.Sprintf("inactive tenants: %s", strings.Join(inactive, ", ")))
	}

	out := make([]Tenant, 0, len(wanted))
	for _, t := range active {
		if wanted[strings.ToLower(t.Name)] {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, errors.Configuration("tenant filter selected no tenants")
	}
	return out, nil
}
