package parser

import (
	"fmt"
	"strings"
)

// scanState is the position of the repair scanner relative to JSON string
// literals.
type scanState int

const (
	stateOutside scanState = iota
	stateInString
)

// RepairNewlines re-escapes raw control characters that appear inside JSON
// string literals. Models often emit multi-line narrative with literal line
// breaks, which strict decoders reject. Characters outside strings and
// already-escaped sequences are left untouched, so the pass is idempotent
// and transparent for well-formed input.
func RepairNewlines(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	state := stateOutside
	escaped := false

	for _, r := range s {
		switch state {
		case stateOutside:
			if r == '"' {
				state = stateInString
			}
			b.WriteRune(r)

		case stateInString:
			if escaped {
				escaped = false
				b.WriteRune(r)
				continue
			}
			switch {
			case r == '\\':
				escaped = true
				b.WriteRune(r)
			case r == '"':
				state = stateOutside
				b.WriteRune(r)
			case r == '\n':
				b.WriteString(`\n`)
			case r == '\r':
				b.WriteString(`\r`)
			case r == '\t':
				b.WriteString(`\t`)
			case r < 0x20:
				fmt.Fprintf(&b, `\u%04x`, r)
			default:
				b.WriteRune(r)
			}
		}
	}

	return b.String()
}
