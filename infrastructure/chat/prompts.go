package chat

import (
	"strings"
	"text/template"

	"github.com/ahrav/go-warden/infrastructure/audit"
	"github.com/ahrav/go-warden/internal/domain"
)

// Refusal is returned in place of any reply that drew on content outside
// the session grounding.
const Refusal = "Sorry, I can only answer questions about the audit content of this session.\n" +
	"عذراً، يمكنني فقط الإجابة عن الأسئلة المتعلقة بمحتوى التدقيق في هذه الجلسة."

const controlPreambleText = `You are a compliance chat assistant (Arabic and English). Help the user with questions about the audit report and the control below.

## Control Instructions
{{trim .Instruction.DescriptionControl}}
{{- range .Instruction.AuditInstructions}}
- {{trim .}}
{{- end}}

## Audit Report
{{truncate (trim .Report) .ReportLimit}}

## Response Rules
- Answer only from the control instructions and the audit report above.
- Reply in the language of the user's question.
- Do not repeat section headings or labels verbatim; answer in plain prose.
- If the question is unrelated to this content, say that you can only discuss this audit.`

const generalPreambleText = `You are a compliance chat assistant (Arabic and English). Help the user with questions about the clauses below.

## Clauses
{{- range $i, $c := .Clauses}}

### {{add $i 1}}. {{oneLine $c.Title}}
Source: {{or $c.Source "unknown"}}, page {{$c.PageOrDefault}}
{{trim $c.Description}}
{{- end}}

## Response Rules
- Answer only from the clauses above and cite the clause title you rely on.
- Reply in the language of the user's question.
- Do not repeat section headings or labels verbatim; answer in plain prose.
- If the question is unrelated to these clauses, say that you can only discuss them.`

const containmentPromptText = `You are a strict reviewer. Decide whether the candidate reply is grounded only in the supplied content.

### Supplied Content:
{{.Grounding}}

### User Question:
{{.Question}}

### Candidate Reply:
{{.Reply}}

Was the candidate reply grounded only in the supplied content, without drawing on outside knowledge or answering an unrelated question?
Answer with exactly one word: "yes" or "no".`

var (
	controlPreamble   = template.Must(template.New("control").Funcs(audit.GetTemplateFuncMap()).Parse(controlPreambleText))
	generalPreamble   = template.Must(template.New("general").Funcs(audit.GetTemplateFuncMap()).Parse(generalPreambleText))
	containmentPrompt = template.Must(template.New("containment").Parse(containmentPromptText))
)

// MaxReportRunes bounds the audit report embedded in a control preamble.
// Longer reports are cut and marked with "...".
const MaxReportRunes = 8000

type controlData struct {
	Instruction domain.ControlInstruction
	Report      string
	ReportLimit int
}

type generalData struct {
	Clauses []domain.Clause
}

type containmentData struct {
	Grounding string
	Question  string
	Reply     string
}

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
