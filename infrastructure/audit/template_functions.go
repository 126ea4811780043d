// Package audit implements the clause-to-verdict pipeline: compiling
// clauses into control instructions, evaluating evidence images against
// them, and aggregating per-image verdicts into one decision.
//
// Prompt templates are rendered with text/template and the helpers in
// GetTemplateFuncMap. Every template is parsed once at package load, so
// rendering is deterministic for equal input.
package audit

import (
	"strings"
	"text/template"
	"unicode/utf8"
)

// GetTemplateFuncMap returns the helpers available to audit prompt
// templates. The map is safe for concurrent use.
func GetTemplateFuncMap() template.FuncMap {
	return template.FuncMap{
		// add converts 0-based range indexes into 1-based step numbers.
		// Template usage: {{add $i 1}}
		"add": func(a, b int) int {
			return a + b
		},

		// trim removes leading and trailing whitespace.
		"trim": strings.TrimSpace,

		// oneLine collapses line breaks so a value fits a single prompt line.
		// Template usage: {{oneLine .Title}}
		"oneLine": func(s string) string {
			return strings.Join(strings.Fields(s), " ")
		},

		// truncate limits s to n runes, adding "..." when it cuts.
		// Template usage: {{truncate .Report 2000}}
		"truncate": func(s string, n int) string {
			if n <= 0 {
				return ""
			}
			if utf8.RuneCountInString(s) <= n {
				return s
			}
			return string([]rune(s)[:n]) + "..."
		},
	}
}

// mustParse parses a package-level prompt template with the audit helpers.
func mustParse(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(GetTemplateFuncMap()).Parse(text))
}
