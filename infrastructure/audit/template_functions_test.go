package audit

import (
	"bytes"
	"testing"
	"text/template"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, text string, data any) string {
	t.Helper()
	tmpl, err := template.New("t").Funcs(GetTemplateFuncMap()).Parse(text)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, tmpl.Execute(&buf, data))
	return buf.String()
}

func TestGetTemplateFuncMap(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     any
		want     string
	}{
		{name: "add", template: `{{add 2 1}}`, want: "3"},
		{name: "trim", template: `{{trim .}}`, data: "  x \n", want: "x"},
		{name: "oneLine", template: `{{oneLine .}}`, data: "a\n b\t c", want: "a b c"},
		{name: "truncate_ascii", template: `{{truncate . 3}}`, data: "abcdef", want: "abc..."},
		{name: "truncate_runes", template: `{{truncate . 2}}`, data: "بند٥", want: "بن..."},
		{name: "truncate_short", template: `{{truncate . 10}}`, data: "abc", want: "abc"},
		{name: "truncate_zero", template: `{{truncate . 0}}`, data: "abc", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, render(t, tt.template, tt.data))
		})
	}
}
