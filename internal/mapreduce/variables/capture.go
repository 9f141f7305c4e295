package variables

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Source selects which stream a CaptureSpec reads from.
type Source string

const (
	SourceStdout Source = "stdout"
	SourceStderr Source = "stderr"
	SourceBoth   Source = "both"
)

// Multiline controls how a multi-line extraction collapses to a value.
type Multiline string

const (
	MultilinePreserve  Multiline = "preserve"
	MultilineFirstLine Multiline = "first_line"
	MultilineLastLine  Multiline = "last_line"
	MultilineJoin      Multiline = "join"
	MultilineArray     Multiline = "array"
)

// CaptureSpec describes how to promote a command's output into a
// variable (spec section 4.10).
type CaptureSpec struct {
	Source    Source
	Pattern   string
	JSONPath  string
	Multiline Multiline
	MaxSize   int
	Default   interface{}
}

// Capture evaluates spec against a command's stdout/stderr, following
// the fixed evaluation order: read source, apply pattern, apply
// json_path, apply multiline handling, enforce max_size, fall back to
// default on any failure along the way.
func Capture(spec CaptureSpec, stdout, stderr string) interface{} {
	raw, ok := readSource(spec.Source, stdout, stderr)
	if !ok {
		return spec.Default
	}

	if spec.Pattern != "" {
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return spec.Default
		}
		m := re.FindStringSubmatch(raw)
		if len(m) < 2 {
			return spec.Default
		}
		raw = m[1]
	}

	var value interface{} = raw
	if spec.JSONPath != "" {
		var parsed interface{}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return spec.Default
		}
		v, ok := ResolvePath(parsed, spec.JSONPath)
		if !ok {
			return spec.Default
		}
		value = v
	}

	value = applyMultiline(value, spec.Multiline)

	if spec.MaxSize > 0 {
		value = truncate(value, spec.MaxSize)
	}

	return value
}

func readSource(src Source, stdout, stderr string) (string, bool) {
	switch src {
	case SourceStdout:
		return stdout, true
	case SourceStderr:
		return stderr, true
	case SourceBoth:
		return stdout + stderr, true
	default:
		return stdout, true
	}
}

func applyMultiline(value interface{}, mode Multiline) interface{} {
	s, ok := value.(string)
	if !ok {
		return value
	}
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")

	switch mode {
	case MultilineFirstLine:
		if len(lines) == 0 {
			return ""
		}
		return lines[0]
	case MultilineLastLine:
		if len(lines) == 0 {
			return ""
		}
		return lines[len(lines)-1]
	case MultilineArray:
		out := make([]interface{}, len(lines))
		for i, l := range lines {
			out[i] = l
		}
		return out
	case MultilineJoin:
		return strings.Join(lines, " ")
	case MultilinePreserve, "":
		return s
	default:
		return s
	}
}

func truncate(value interface{}, maxSize int) interface{} {
	s, ok := value.(string)
	if !ok {
		return value
	}
	if len(s) <= maxSize {
		return s
	}
	return s[:maxSize]
}
