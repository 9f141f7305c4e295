package variables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	data := map[string]interface{}{
		"map": map[string]interface{}{
			"results": []interface{}{
				map[string]interface{}{"score": 9},
				map[string]interface{}{"score": 7},
			},
		},
	}

	v, ok := ResolvePath(data, "map.results.0.score")
	require.True(t, ok)
	assert.Equal(t, 9, v)

	v, ok = ResolvePath(data, "map.results[1].score")
	require.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok = ResolvePath(data, "map.results.5.score")
	assert.False(t, ok)
}

func TestChainLookupPrecedence(t *testing.T) {
	chain := NewChain()
	chain.Global().Set("item", "outer")

	inner := chain.Push("item")
	inner.Current().Set("item", "inner")

	v, ok := inner.Lookup("item")
	require.True(t, ok)
	assert.Equal(t, "inner", v)

	v, ok = chain.Lookup("item")
	require.True(t, ok)
	assert.Equal(t, "outer", v)
}

func TestChainLookupNested(t *testing.T) {
	chain := NewChain()
	chain.Current().Set("item", map[string]interface{}{"name": "widget", "qty": 3})

	v, ok := chain.Lookup("item.name")
	require.True(t, ok)
	assert.Equal(t, "widget", v)
}

func TestInterpolateBraceAndBare(t *testing.T) {
	chain := NewChain()
	chain.Current().Set("item", map[string]interface{}{"id": "w-1"})
	chain.Global().Set("job_id", "j-42")

	out := Interpolate("process ${item.id} for $job_id", chain)
	assert.Equal(t, "process w-1 for j-42", out)
}

func TestInterpolateUnknownLeftIntact(t *testing.T) {
	chain := NewChain()
	out := Interpolate("keep ${nope.missing} as-is", chain)
	assert.Equal(t, "keep ${nope.missing} as-is", out)
}

func TestCaptureWithPatternAndJSONPath(t *testing.T) {
	stdout := `result: {"score": 42, "tags": ["a", "b"]}`
	spec := CaptureSpec{
		Source:   SourceStdout,
		Pattern:  `result: (.*)`,
		JSONPath: "tags.0",
	}
	v := Capture(spec, stdout, "")
	assert.Equal(t, "a", v)
}

func TestCaptureDefaultOnFailure(t *testing.T) {
	spec := CaptureSpec{
		Source:  SourceStdout,
		Pattern: `does-not-match`,
		Default: "fallback",
	}
	v := Capture(spec, "nothing useful here", "")
	assert.Equal(t, "fallback", v)
}

func TestCaptureMultilineModes(t *testing.T) {
	stdout := "line one\nline two\nline three\n"

	assert.Equal(t, "line one", Capture(CaptureSpec{Source: SourceStdout, Multiline: MultilineFirstLine}, stdout, ""))
	assert.Equal(t, "line three", Capture(CaptureSpec{Source: SourceStdout, Multiline: MultilineLastLine}, stdout, ""))
	assert.Equal(t, "line one line two line three", Capture(CaptureSpec{Source: SourceStdout, Multiline: MultilineJoin}, stdout, ""))

	arr := Capture(CaptureSpec{Source: SourceStdout, Multiline: MultilineArray}, stdout, "")
	assert.Equal(t, []interface{}{"line one", "line two", "line three"}, arr)
}

func TestCaptureMaxSizeTruncates(t *testing.T) {
	v := Capture(CaptureSpec{Source: SourceStdout, MaxSize: 5}, "abcdefghij", "")
	assert.Equal(t, "abcde", v)
}
