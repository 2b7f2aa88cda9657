// Package extract maps raw source records onto the typed column layout of an
// entity definition.
package extract

import (
	"sort"
	"strings"

	"github.com/ajitpratap0/deanslist-sync/pkg/json"
)

// Flatten turns a decoded JSON object into a single-level map. Nested
// object keys are joined with "_", so {"IssueTS": {"date": "x"}} becomes
// {"IssueTS_date": "x"}. Arrays are kept whole and serialized to JSON text.
// Numbers are converted to int64 when integral, float64 otherwise.
func Flatten(record map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(record))
	if err := flattenInto(out, "", record); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenInto(out map[string]any, prefix string, obj map[string]any) error {
	// Sorted so a collision between "a.b" and {"a": {"b"}} resolves the same way every run.
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := columnName(k)
		if prefix != "" {
			name = prefix + "_" + name
		}
		switch v := obj[k].(type) {
		case map[string]any:
			if err := flattenInto(out, name, v); err != nil {
				return err
			}
		default:
			sv, err := scalar(v)
			if err != nil {
				return err
			}
			out[name] = sv
		}
	}
	return nil
}

// scalar converts a decoded value into its column representation.
func scalar(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool:
		return x, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		return x.Float64()
	case float64:
		return x, nil
	default:
		return json.MarshalCompact(x)
	}
}

func columnName(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}
