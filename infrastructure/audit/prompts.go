package audit

import "github.com/ahrav/go-warden/internal/domain"

// compilePromptText instructs the model to turn one clause into a control
// instruction. The examples pin the wire shape ParseInstruction expects.
const compilePromptText = `You are a legal compliance expert. Transform the clause below into a clear set of measurable instructions that a language model can follow to audit documents for compliance.

Work through these steps:
1. Identify the responsible party: who is obligated or restricted?
2. Identify the required or prohibited action.
3. Extract any conditions or exceptions: when, or under what circumstances, is it allowed or not allowed?
4. Restate the clause as a descriptive paragraph in description_control.
5. Write ordered, step-by-step audit instructions.

Every instruction must be specific, actionable and measurable within the context of document analysis.

### Language Policy:
- Respond in the same language as the clause.
- If the clause is in Arabic, the whole response, including every step, must be in Arabic.
- If the clause is in English, respond entirely in English.
{{- if eq .Language "ar"}}
- The clause below is in Arabic.
{{- else}}
- The clause below is in English.
{{- end}}

### Expected Output Format:
Respond ONLY with JSON in exactly this shape:
{
  "description_control": "",
  "requirements_control": {
    "Audit_Instructions": [
      "Step 1: ...",
      "Step 2: ..."
    ]
  }
}

### Arabic Example Output:
{
  "description_control": "يلتزم مقدم الخدمة بتطوير وتنفيذ برنامج للمحافظة على خصوصية البيانات الشخصية للمستخدمين على ان يشمل ذلك تطوير وتوثيق وتنفيذ السياسات والاجراءات المتعلقة بها ومتابعة الالتزام بها",
  "requirements_control": {
    "Audit_Instructions": [
      "Step 1: تحقق من أن المستخدم هو الجهة المُسجّلة في المستند.",
      "Step 2: تأكد من وجود سياسة معتمدة للمحافظة على خصوصية البيانات الشخصية.",
      "Step 3: تحقق من أن البرنامج معتمد من المسؤول الأول لدى مقدم الخدمة أو من يفوضه."
    ]
  }
}

### English Example Output:
{
  "description_control": "The service provider shall develop and implement a program to protect users' personal data, including documented policies and procedures and monitoring of adherence to them.",
  "requirements_control": {
    "Audit_Instructions": [
      "Step 1: Identify the privacy program or policy referenced in the document.",
      "Step 2: Confirm that the program is approved by the provider's senior official or a delegate.",
      "Step 3: Flag any missing policy, procedure or approval as non-compliant."
    ]
  }
}

### Clause to Transform:
Title: {{oneLine .Title}}
{{trim .Description}}`

// evaluationPromptText is the per-image evaluation prompt. It embeds the
// four-point checklist, the three-way decision rubric and the JSON reply
// contract ParseVerdict understands.
const evaluationPromptText = `You are a legal and regulatory compliance expert.

Review the provided image (for example a screenshot, a scanned policy or an official document) and decide whether it demonstrates compliance with the clause requirement below.

The clause is defined with structured, measurable elements: the responsible party, the required action, any applicable conditions, and a detailed list of audit instructions.

---
### Clause Instruction:
{{trim .Description}}

Audit Instructions:
{{- range .Steps}}
- {{trim .}}
{{- end}}
---

### Evaluation Task:

Analyze the image and confirm whether it fulfills the clause requirements:

1. **Responsible Party**
   Verify that the party shown in the image matches the responsible entity stated in the clause.

2. **Required Action**
   Ensure that the expected action (prohibition, obligation or condition) is clearly addressed or implemented in the evidence.

3. **Condition (if applicable)**
   If conditions are specified, check that the content of the image satisfies them explicitly.

4. **Audit Instructions**
   Follow every audit step listed above. The steps define exactly what to look for.

---

### Final Compliance Decision:

Choose exactly one decision:

- **COMPLIANT**: The image clearly demonstrates full adherence to the clause and satisfies all audit instructions.
- **NON-COMPLIANT**: One or more clause elements are not satisfied, unclear or missing in the image.
- **INDECISIVE**: The image lacks enough detail to assess compliance with confidence.

If NON-COMPLIANT or INDECISIVE, briefly explain which parts are missing or unsupported and what evidence would confirm compliance.

### Response Format:
Respond ONLY with a JSON object of this shape:
{
  "compliance_status": "COMPLIANT | NON-COMPLIANT | INDECISIVE",
  "flags": ["short issue", "..."],
  "Brief_report": "one or two sentences",
  "full_report": "detailed reasoning",
  "needs_human_review": false
}
{{- if eq .Language "ar"}}
Write flags, Brief_report and full_report in Arabic. Keep the JSON keys and the compliance_status value in English.
{{- else}}
Write flags, Brief_report and full_report in English.
{{- end}}`

var (
	compileTemplate    = mustParse("compile", compilePromptText)
	evaluationTemplate = mustParse("evaluation", evaluationPromptText)
)

type compilePromptData struct {
	Title       string
	Description string
	Language    domain.Language
}

type evaluationPromptData struct {
	Description string
	Steps       []string
	Language    domain.Language
}
