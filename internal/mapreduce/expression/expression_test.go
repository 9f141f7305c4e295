package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndEvaluateComparisons(t *testing.T) {
	expr, err := Parse(`score > 50`)
	require.NoError(t, err)

	ok, err := Evaluate(expr, map[string]interface{}{"score": float64(75)})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(expr, map[string]interface{}{"score": float64(10)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseAndEvaluateBooleanComposition(t *testing.T) {
	expr, err := Parse(`(score > 50 AND active == true) OR category == "A"`)
	require.NoError(t, err)

	ok, err := Evaluate(expr, map[string]interface{}{
		"score": float64(10), "active": "true", "category": "A",
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(expr, map[string]interface{}{
		"score": float64(60), "active": "true", "category": "B",
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(expr, map[string]interface{}{
		"score": float64(10), "active": "false", "category": "B",
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseAndEvaluateNot(t *testing.T) {
	expr, err := Parse(`NOT category == "A"`)
	require.NoError(t, err)

	ok, err := Evaluate(expr, map[string]interface{}{"category": "B"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateContainsOnArray(t *testing.T) {
	expr, err := Parse(`tags CONTAINS "tag3"`)
	require.NoError(t, err)

	ok, err := Evaluate(expr, map[string]interface{}{
		"tags": []interface{}{"tag1", "tag2", "tag3"},
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateContainsOnString(t *testing.T) {
	expr, err := Parse(`name CONTAINS "5"`)
	require.NoError(t, err)

	ok, err := Evaluate(expr, map[string]interface{}{"name": "item-45"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateMissingFieldNeqIsTrue(t *testing.T) {
	expr, err := Parse(`missing != "x"`)
	require.NoError(t, err)

	ok, err := Evaluate(expr, map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestParseSortKeys(t *testing.T) {
	keys, err := ParseSort(`priority DESC, name ASC`)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "priority", keys[0].Field)
	assert.True(t, keys[0].Descending)
	assert.Equal(t, "name", keys[1].Field)
	assert.False(t, keys[1].Descending)
}

func TestSortStableTieBreak(t *testing.T) {
	items := []map[string]interface{}{
		{"priority": float64(1), "name": "b"},
		{"priority": float64(1), "name": "a"},
		{"priority": float64(2), "name": "c"},
	}
	keys, err := ParseSort(`priority DESC`)
	require.NoError(t, err)

	Sort(items, keys)

	assert.Equal(t, "c", items[0]["name"])
	assert.Equal(t, "b", items[1]["name"])
	assert.Equal(t, "a", items[2]["name"])
}
