package variables

import (
	"strconv"
	"strings"
)

// pathToken is one step of a dotted/indexed path such as
// "map.results.0.field" or "map.results[0].field".
type pathToken struct {
	key   string
	index int
	isIdx bool
}

// ParsePath tokenizes a dotted path with optional numeric indices and
// bracketed indices ("a.b.2.c" and "a.b[2].c" are equivalent), as used
// by both ${...} interpolation and json_path selection (spec section
// 4.3 and 4.10).
func ParsePath(path string) []pathToken {
	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return nil
	}

	// Normalize "[n]" into ".n" so the rest of the tokenizer only has to
	// split on dots.
	var normalized strings.Builder
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '[' {
			normalized.WriteByte('.')
			continue
		}
		if c == ']' {
			continue
		}
		normalized.WriteByte(c)
	}

	parts := strings.Split(normalized.String(), ".")
	tokens := make([]pathToken, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if n, err := strconv.Atoi(p); err == nil {
			tokens = append(tokens, pathToken{index: n, isIdx: true})
			continue
		}
		tokens = append(tokens, pathToken{key: p})
	}
	return tokens
}

// Resolve walks tokens over data, returning the value found and whether
// the full path resolved.
func Resolve(data interface{}, tokens []pathToken) (interface{}, bool) {
	current := data
	for _, tok := range tokens {
		if tok.isIdx {
			arr, ok := current.([]interface{})
			if !ok || tok.index < 0 || tok.index >= len(arr) {
				return nil, false
			}
			current = arr[tok.index]
			continue
		}

		switch m := current.(type) {
		case map[string]interface{}:
			v, ok := m[tok.key]
			if !ok {
				return nil, false
			}
			current = v
		default:
			return nil, false
		}
	}
	return current, true
}

// ResolvePath is a convenience wrapper combining ParsePath and Resolve.
func ResolvePath(data interface{}, path string) (interface{}, bool) {
	return Resolve(data, ParsePath(path))
}
