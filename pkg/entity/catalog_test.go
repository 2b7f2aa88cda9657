package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/deanslist-sync/pkg/errors"
)

func names(defs []*Definition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}

func TestDefaultCatalog_Schedule(t *testing.T) {
	c := DefaultCatalog()

	order, err := c.Schedule()
	require.NoError(t, err)
	assert.Equal(t, []string{Incidents, Actions, Penalties, Communications, Behaviors}, names(order))
}

func TestDefaultCatalog_Kinds(t *testing.T) {
	c := DefaultCatalog()

	inc, _ := c.Lookup(Incidents)
	act, _ := c.Lookup(Actions)
	beh, _ := c.Lookup(Behaviors)
	com, _ := c.Lookup(Communications)

	assert.Equal(t, KindParent, inc.Kind())
	assert.Equal(t, KindNested, act.Kind())
	assert.Equal(t, KindIndependent, beh.Kind())
	assert.Equal(t, KindIndependent, com.Kind())
	assert.Contains(t, act.DependsOn, Incidents)
	assert.Equal(t, []string{Actions, Penalties}, names(c.Children(Incidents)))
}

func TestSchedule_DependencyBeforeDeclarationOrder(t *testing.T) {
	child := &Definition{Name: "Child", Parent: "Root", NestedField: "Kids", LinkColumn: "RootID",
		Fields: []Field{req("RootID")}}
	root := &Definition{Name: "Root", Endpoint: "roots", APIVersion: APIVersionV1, IdentityColumn: "RootID",
		Fields: []Field{req("RootID"), opt("Kids")}}

	c, err := NewCatalog(child, root)
	require.NoError(t, err)

	order, err := c.Schedule()
	require.NoError(t, err)
	assert.Equal(t, []string{"Root", "Child"}, names(order))
}

func TestNewCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		defs []*Definition
	}{
		{
			name: "cycle",
			defs: []*Definition{
				{Name: "A", Endpoint: "a", Fields: []Field{req("x")}, DependsOn: []string{"B"}},
				{Name: "B", Endpoint: "b", Fields: []Field{req("x")}, DependsOn: []string{"A"}},
			},
		},
		{
			name: "unknown parent",
			defs: []*Definition{
				{Name: "Orphan", Parent: "Missing", NestedField: "f", LinkColumn: "id", Fields: []Field{req("id")}},
			},
		},
		{
			name: "windowed without window column",
			defs: []*Definition{
				{Name: "W", Endpoint: "w", Windowed: true, WindowColumn: "Day", Fields: []Field{req("x")}},
			},
		},
		{
			name: "duplicate field",
			defs: []*Definition{
				{Name: "D", Endpoint: "d", Fields: []Field{req("x"), opt("x")}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.defs...)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestMonthOf(t *testing.T) {
	w := MonthOf(time.Date(2024, time.February, 17, 13, 0, 0, 0, time.UTC))
	assert.Equal(t, "2024-02-01", w.StartString())
	assert.Equal(t, "2024-02-29", w.EndString())

	w = MonthOf(time.Date(2019, time.December, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "[2019-12-01, 2019-12-31]", w.String())
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("2024-01-01", "2024-01-31")
	require.NoError(t, err)
	assert.True(t, w.Contains(time.Date(2024, 1, 31, 23, 59, 0, 0, time.UTC)))
	assert.True(t, w.Contains(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-02-01", w.UntilString())

	_, err = ParseWindow("2024-02-01", "2024-01-01")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = ParseWindow("01/02/2024", "2024-01-01")
	assert.Error(t, err)
}
