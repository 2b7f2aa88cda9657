package extract

import (
	"fmt"

	"github.com/ajitpratap0/deanslist-sync/pkg/entity"
	"github.com/ajitpratap0/deanslist-sync/pkg/errors"
	"github.com/ajitpratap0/deanslist-sync/pkg/json"
)

// Table is the typed row set for one entity, ready for a bulk append.
// Every row has exactly len(Columns) values in column order.
type Table struct {
	Entity  string
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Column returns the values of the named column, or nil if absent.
func (t *Table) Column(name string) []any {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]any, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[idx]
	}
	return out
}

// ParentRows maps top-level records onto def's columns and injects the
// tenant key. Fields outside the definition are dropped. A record without
// one of the definition's required fields fails the whole set with a schema
// error. An empty record set yields an empty table.
func ParentRows(records []json.RawMessage, def *entity.Definition, tenantKey string) (*Table, error) {
	t := &Table{Entity: def.Name, Columns: def.StoredColumns(), Rows: make([][]any, 0, len(records))}

	for i, raw := range records {
		obj, err := decodeObject(raw)
		if err != nil {
			return nil, errors.Schema(def.Name, fmt.Sprintf("record %d is not an object", i)).WithDetail("cause", err.Error())
		}
		flat, err := Flatten(obj)
		if err != nil {
			return nil, errors.Schema(def.Name, fmt.Sprintf("record %d cannot be flattened: %v", i, err))
		}
		row, err := mapRow(def, flat, i)
		if err != nil {
			return nil, err
		}
		t.Rows = append(t.Rows, append(row, tenantKey))
	}
	return t, nil
}

// NestedRows expands def.NestedField of every parent record into rows of
// the nested entity, in parent order then element order. A parent whose
// field is absent, null or an empty array contributes nothing. A field that
// is present but not an array, or an element that is not an object, is a
// schema error: the caller must be able to tell "the source had none" from
// "the payload could not be read".
func NestedRows(records []json.RawMessage, def *entity.Definition) (*Table, error) {
	t := &Table{Entity: def.Name, Columns: def.StoredColumns()}

	for i, raw := range records {
		obj, err := decodeObject(raw)
		if err != nil {
			return nil, errors.Schema(def.Name, fmt.Sprintf("parent record %d is not an object", i)).WithDetail("cause", err.Error())
		}

		field, ok := obj[def.NestedField]
		if !ok || field == nil {
			continue
		}
		elems, ok := field.([]any)
		if !ok {
			return nil, errors.Schema(def.Name, fmt.Sprintf("parent record %d: field %s is %T, not an array", i, def.NestedField, field))
		}

		for j, elem := range elems {
			child, ok := elem.(map[string]any)
			if !ok {
				return nil, errors.Schema(def.Name, fmt.Sprintf("parent record %d: %s[%d] is %T, not an object", i, def.NestedField, j, elem))
			}
			flat, err := Flatten(child)
			if err != nil {
				return nil, errors.Schema(def.Name, fmt.Sprintf("parent record %d: %s[%d] cannot be flattened: %v", i, def.NestedField, j, err))
			}
			row, err := mapRow(def, flat, len(t.Rows))
			if err != nil {
				return nil, err
			}
			t.Rows = append(t.Rows, row)
		}
	}
	return t, nil
}

// mapRow projects a flattened record onto def's fields. A required field
// that is absent or null is rejected.
func mapRow(def *entity.Definition, flat map[string]any, index int) ([]any, error) {
	row := make([]any, len(def.Fields), len(def.Fields)+1)
	for c, f := range def.Fields {
		v, ok := flat[f.Name]
		if f.Required && (!ok || v == nil) {
			return nil, errors.Schema(def.Name, fmt.Sprintf("record %d is missing required field %s", index, f.Name)).
				WithDetail("field", f.Name)
		}
		row[c] = v
	}
	return row, nil
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	var obj map[string]any
	if err := json.UnmarshalUseNumber(raw, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("null record")
	}
	return obj, nil
}
