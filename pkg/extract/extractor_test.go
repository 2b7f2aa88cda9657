package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/deanslist-sync/pkg/entity"
	"github.com/ajitpratap0/deanslist-sync/pkg/errors"
	"github.com/ajitpratap0/deanslist-sync/pkg/json"
)

const bayviewIncidents = `[
  {"IncidentID": 101, "SchoolID": 7, "StudentID": 5001, "Infraction": "Tardy",
   "IssueTS": {"date": "2024-01-10 08:00:00.000000", "timezone": "UTC"},
   "Unmapped": "dropped",
   "Actions": [
     {"SAID": 1, "ActionID": 11, "ActionName": "Detention", "SourceID": 101, "PointValue": "5"},
     {"SAID": 2, "ActionID": 12, "ActionName": "Call Home", "SourceID": 101, "PointValue": null}
   ],
   "Penalties": [
     {"IncidentPenaltyID": 900, "IncidentID": 101, "PenaltyName": "OSS", "NumDays": 1.5, "IsSuspension": true}
   ]},
  {"IncidentID": 102, "SchoolID": 7, "StudentID": 5002, "Actions": [], "Penalties": null}
]`

func records(t *testing.T, payload string) []json.RawMessage {
	t.Helper()
	var out []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(payload), &out))
	return out
}

func lookup(t *testing.T, name string) *entity.Definition {
	t.Helper()
	def, ok := entity.DefaultCatalog().Lookup(name)
	require.True(t, ok)
	return def
}

func TestFlatten(t *testing.T) {
	var obj map[string]any
	require.NoError(t, json.UnmarshalUseNumber([]byte(`{
		"a": {"b": {"c": 1}}, "d.e": "dotted", "big": 9007199254740993,
		"ratio": 0.5, "list": [1, {"x": "<y>"}], "nil": null, "flag": false
	}`), &obj))

	flat, err := Flatten(obj)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"a_b_c": int64(1),
		"d_e":   "dotted",
		"big":   int64(9007199254740993),
		"ratio": 0.5,
		"list":  `[1,{"x":"<y>"}]`,
		"nil":   nil,
		"flag":  false,
	}, flat)
}

func TestParentRows_Bayview(t *testing.T) {
	def := lookup(t, entity.Incidents)

	table, err := ParentRows(records(t, bayviewIncidents), def, "bayview-key")
	require.NoError(t, err)

	require.Equal(t, 2, table.Len())
	assert.Equal(t, entity.TenantColumn, table.Columns[len(table.Columns)-1])
	assert.NotContains(t, table.Columns, "Unmapped")
	assert.Equal(t, []any{int64(101), int64(102)}, table.Column("IncidentID"))
	assert.Equal(t, []any{"bayview-key", "bayview-key"}, table.Column(entity.TenantColumn))
	assert.Equal(t, []any{"2024-01-10 08:00:00.000000", nil}, table.Column("IssueTS_date"))

	actions := table.Column("Actions")
	assert.Contains(t, actions[0], `"ActionName":"Detention"`)
	assert.Equal(t, "[]", actions[1])
	assert.Equal(t, []any{`[{"IncidentID":101,"IncidentPenaltyID":900,"IsSuspension":true,"NumDays":1.5,"PenaltyName":"OSS"}]`, nil},
		table.Column("Penalties"))

	for _, row := range table.Rows {
		assert.Len(t, row, len(table.Columns))
	}
}

func TestNestedRows_Bayview(t *testing.T) {
	recs := records(t, bayviewIncidents)

	actions, err := NestedRows(recs, lookup(t, entity.Actions))
	require.NoError(t, err)
	assert.Equal(t, 2, actions.Len())
	assert.Equal(t, []any{int64(101), int64(101)}, actions.Column("SourceID"))
	assert.Equal(t, []any{int64(11), int64(12)}, actions.Column("ActionID"))
	assert.NotContains(t, actions.Columns, entity.TenantColumn)
	// Integral-looking strings are left alone.
	assert.Equal(t, []any{"5", nil}, actions.Column("PointValue"))

	penalties, err := NestedRows(recs, lookup(t, entity.Penalties))
	require.NoError(t, err)
	assert.Equal(t, 1, penalties.Len())
	assert.Equal(t, []any{1.5}, penalties.Column("NumDays"))
	assert.Equal(t, []any{true}, penalties.Column("IsSuspension"))
}

func TestParentRows_Empty(t *testing.T) {
	table, err := ParentRows(nil, lookup(t, entity.Communications), "k")
	require.NoError(t, err)
	assert.Equal(t, 0, table.Len())
	assert.NotEmpty(t, table.Columns)
}

func TestParentRows_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"absent", `[{"BehaviorDate": "2024-01-05"}]`},
		{"null", `[{"DLSAID": null, "BehaviorDate": "2024-01-05"}]`},
		{"not an object", `["DLSAID"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParentRows(records(t, tt.payload), lookup(t, entity.Behaviors), "k")
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeSchema))
		})
	}
}

func TestNestedRows_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"field is an object", `[{"IncidentID": 1, "Actions": {"ActionID": 1}}]`},
		{"field is a string", `[{"IncidentID": 1, "Actions": "none"}]`},
		{"element is a scalar", `[{"IncidentID": 1, "Actions": [3]}]`},
		{"element misses link", `[{"IncidentID": 1, "Actions": [{"ActionID": 3}]}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NestedRows(records(t, tt.payload), lookup(t, entity.Actions))
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeSchema))
		})
	}
}

func TestNestedRows_AbsentField(t *testing.T) {
	table, err := NestedRows(records(t, `[{"IncidentID": 1}, {"IncidentID": 2, "Actions": null}]`), lookup(t, entity.Actions))
	require.NoError(t, err)
	assert.Equal(t, 0, table.Len())
}
