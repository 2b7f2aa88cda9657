// Package entity declares the synchronized tables: where each one is fetched
// from, which columns it carries, how its rows are attributed to a tenant and
// which other entities must be reconciled before it.
package entity

import (
	"fmt"

	"github.com/ajitpratap0/deanslist-sync/pkg/errors"
)

// APIVersion selects the base path of a source endpoint.
type APIVersion string

const (
	// APIVersionV1 endpoints live under /api/v1/<endpoint>
	APIVersionV1 APIVersion = "v1"
	// APIVersionBeta endpoints live under /api/beta/export/<endpoint>.php
	APIVersionBeta APIVersion = "beta"
)

// TenantColumn is injected into every parent and independent row and
// scopes their deletion.
const TenantColumn = "SchoolAPIKey"

// Kind classifies how an entity's rows are scoped for deletion.
type Kind int

const (
	// KindIndependent rows carry a tenant column and are replaced per tenant
	// (or per tenant and window when the definition is windowed).
	KindIndependent Kind = iota
	// KindParent is an independent entity whose payload also embeds nested children.
	KindParent
	// KindNested rows have no tenant column; they belong to a tenant through
	// their link to a parent row.
	KindNested
)

func (k Kind) String() string {
	switch k {
	case KindParent:
		return "parent"
	case KindNested:
		return "nested"
	default:
		return "independent"
	}
}

// Field is one target column. Names are the flattened form, so the
// source key "IssueTS.date" maps to the column "IssueTS_date".
type Field struct {
	Name     string
	Required bool
}

// Definition describes one synchronized table.
type Definition struct {
	Name       string
	Endpoint   string
	APIVersion APIVersion
	Fields     []Field

	// IdentityColumn is the natural key nested children link to.
	IdentityColumn string

	// Parent, LinkColumn and NestedField are set on nested entities only:
	// rows are extracted from Parent's NestedField and LinkColumn holds the
	// parent's IdentityColumn value.
	Parent      string
	LinkColumn  string
	NestedField string

	// Windowed entities are fetched and replaced for an inclusive date range
	// on WindowColumn.
	Windowed     bool
	WindowColumn string

	// DependsOn names entities that must be reconciled first for the same tenant.
	DependsOn []string

	kind Kind
}

// Kind reports how the entity is scoped.
func (d *Definition) Kind() Kind {
	return d.kind
}

// IsNested reports whether rows come from a parent's payload.
func (d *Definition) IsNested() bool {
	return d.kind == KindNested
}

// Columns returns the ordered column names.
func (d *Definition) Columns() []string {
	cols := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		cols[i] = f.Name
	}
	return cols
}

// StoredColumns returns the warehouse columns in insert order: the fields,
// followed by TenantColumn unless the entity is nested.
func (d *Definition) StoredColumns() []string {
	cols := d.Columns()
	if d.kind != KindNested {
		cols = append(cols, TenantColumn)
	}
	return cols
}

// Table returns the warehouse table name for this entity, without schema.
func (d *Definition) Table(prefix string) string {
	return prefix + d.Name
}

// HasColumn reports whether name is one of the definition's fields.
func (d *Definition) HasColumn(name string) bool {
	for _, f := range d.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (d *Definition) validate() error {
	if d.Name == "" {
		return errors.Configuration("entity definition without a name")
	}
	if len(d.Fields) == 0 {
		return errors.Configuration(fmt.Sprintf("entity %s declares no fields", d.Name))
	}
	seen := make(map[string]struct{}, len(d.Fields))
	for _, f := range d.Fields {
		if _, dup := seen[f.Name]; dup {
			return errors.Configuration(fmt.Sprintf("entity %s declares field %s twice", d.Name, f.Name))
		}
		seen[f.Name] = struct{}{}
	}
	if d.HasColumn(TenantColumn) {
		return errors.Configuration(fmt.Sprintf("entity %s declares the reserved column %s", d.Name, TenantColumn))
	}
	if d.Windowed && !d.HasColumn(d.WindowColumn) {
		return errors.Configuration(fmt.Sprintf("windowed entity %s has no window column %q", d.Name, d.WindowColumn))
	}
	if d.IdentityColumn != "" && !d.HasColumn(d.IdentityColumn) {
		return errors.Configuration(fmt.Sprintf("entity %s has no identity column %q", d.Name, d.IdentityColumn))
	}
	if d.Parent != "" {
		if d.LinkColumn == "" || d.NestedField == "" {
			return errors.Configuration(fmt.Sprintf("nested entity %s needs a link column and a nested field", d.Name))
		}
		if !d.HasColumn(d.LinkColumn) {
			return errors.Configuration(fmt.Sprintf("nested entity %s has no link column %q", d.Name, d.LinkColumn))
		}
		if d.Windowed {
			return errors.Configuration(fmt.Sprintf("nested entity %s cannot be windowed", d.Name))
		}
	}
	if d.Endpoint == "" && d.Parent == "" {
		return errors.Configuration(fmt.Sprintf("entity %s has neither an endpoint nor a parent", d.Name))
	}
	return nil
}
