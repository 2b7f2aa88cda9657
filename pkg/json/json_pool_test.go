package json

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalUseNumber_KeepsLargeIDs(t *testing.T) {
	var v map[string]interface{}
	require.NoError(t, UnmarshalUseNumber([]byte(`{"IncidentID": 9007199254740993}`), &v))

	n, ok := v["IncidentID"].(Number)
	require.True(t, ok)
	assert.Equal(t, "9007199254740993", n.String())
}

func TestMarshalCompact(t *testing.T) {
	s, err := MarshalCompact([]interface{}{map[string]interface{}{"ActionName": "<Detention>"}})
	require.NoError(t, err)
	assert.Equal(t, `[{"ActionName":"<Detention>"}]`, s)
}
