package variables

import (
	"fmt"
	"strings"
)

// Interpolate replaces ${path} and bare $path references in template
// with their resolved string value. A reference that does not resolve
// is left in the output verbatim, so a typo'd variable is visible in
// the rendered command rather than silently erased (spec section
// 4.10: unresolved references are a non-fatal, visible no-op).
func Interpolate(template string, chain *Chain) string {
	var out strings.Builder
	i := 0
	for i < len(template) {
		c := template[i]
		if c != '$' || i+1 >= len(template) {
			out.WriteByte(c)
			i++
			continue
		}

		if template[i+1] == '{' {
			end := strings.IndexByte(template[i+2:], '}')
			if end < 0 {
				out.WriteByte(c)
				i++
				continue
			}
			path := template[i+2 : i+2+end]
			if v, ok := chain.Lookup(path); ok {
				out.WriteString(stringify(v))
			} else {
				out.WriteString(template[i : i+3+end])
			}
			i += 3 + end
			continue
		}

		if isIdentStart(template[i+1]) {
			j := i + 1
			for j < len(template) && isIdentPart(template[j]) {
				j++
			}
			path := template[i+1 : j]
			if v, ok := chain.Lookup(path); ok {
				out.WriteString(stringify(v))
			} else {
				out.WriteString(template[i:j])
			}
			i = j
			continue
		}

		out.WriteByte(c)
		i++
	}
	return out.String()
}

// ExtractReferences returns every ${path} and bare $path reference found
// in template without resolving them, so a caller can validate commands
// before any variable state exists (spec section 4.10's dry-run
// supplement).
func ExtractReferences(template string) []string {
	var refs []string
	i := 0
	for i < len(template) {
		c := template[i]
		if c != '$' || i+1 >= len(template) {
			i++
			continue
		}

		if template[i+1] == '{' {
			end := strings.IndexByte(template[i+2:], '}')
			if end < 0 {
				i++
				continue
			}
			refs = append(refs, template[i+2:i+2+end])
			i += 3 + end
			continue
		}

		if isIdentStart(template[i+1]) {
			j := i + 1
			for j < len(template) && isIdentPart(template[j]) {
				j++
			}
			refs = append(refs, template[i+1:j])
			i = j
			continue
		}

		i++
	}
	return refs
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '.' || c == '[' || c == ']'
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
