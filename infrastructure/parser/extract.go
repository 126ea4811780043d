package parser

import "strings"

const fence = "```"

// StripFences returns the structured payload inside a model reply. It
// prefers a ```json block, then any fenced block whose body starts with an
// object or array, and finally the outermost balanced {...} span. An opening
// fence without a closing one is tolerated. Text without any of these is
// returned trimmed and unchanged.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)

	if body, ok := fencedBody(s, "json"); ok {
		return body
	}
	if body, ok := fencedBody(s, ""); ok && looksStructured(body) {
		return body
	}
	if span, ok := objectSpan(s); ok {
		return span
	}
	return s
}

// fencedBody returns the text between the first fence tagged tag and the
// next fence. The tag is compared case-insensitively in place so offsets
// always index s. With an empty tag the first fence is used and any
// language tag on its line is skipped.
func fencedBody(s, tag string) (string, bool) {
	start := -1
	for i := 0; i < len(s); {
		idx := strings.Index(s[i:], fence)
		if idx == -1 {
			return "", false
		}
		at := i + idx + len(fence)
		if tag == "" {
			start = at
			if nl := strings.IndexByte(s[at:], '\n'); nl != -1 {
				start += nl + 1
			}
			break
		}
		if end := at + len(tag); end <= len(s) && strings.EqualFold(s[at:end], tag) {
			start = end
			break
		}
		i = at
	}
	if start == -1 {
		return "", false
	}

	rest := s[start:]
	if end := strings.Index(rest, fence); end != -1 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest), true
}

func looksStructured(s string) bool {
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

// objectSpan finds the first balanced top-level object, skipping braces that
// appear inside string literals.
func objectSpan(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case c == '{' && !inString:
			depth++
		case c == '}' && !inString:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	// Unbalanced: hand back everything from the first brace and let the
	// decoder report the problem.
	return s[start:], true
}
