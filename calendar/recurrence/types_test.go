package recurrence

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindNames(t *testing.T) {
	kinds := []Kind{
		EveryWeek, BiweeklyEven, BiweeklyOdd,
		FirstWeekOfMonth, SecondWeekOfMonth, ThirdWeekOfMonth, LastWeekOfMonth,
	}
	for _, kind := range kinds {
		parsed, err := ParseKind(kind.String())
		require.NoError(t, err, kind.String())
		assert.Equal(t, kind, parsed)
	}

	_, err := ParseKind("every_fortnight")
	assert.Error(t, err)
	assert.Equal(t, "kind(42)", Kind(42).String())
}

func TestKindJSON(t *testing.T) {
	raw, err := json.Marshal([]Kind{EveryWeek, LastWeekOfMonth})
	require.NoError(t, err)
	assert.JSONEq(t, `["every_week","last_week_of_month"]`, string(raw))

	var kinds []Kind
	require.NoError(t, json.Unmarshal([]byte(`["biweekly_odd"]`), &kinds))
	assert.Equal(t, []Kind{BiweeklyOdd}, kinds)

	err = json.Unmarshal([]byte(`["yearly"]`), &kinds)
	assert.Error(t, err)
}
