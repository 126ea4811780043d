// Package parser turns free-form model replies into structured values.
//
// Vision and language models give no output-format guarantee, so every
// reply goes through the same pipeline: code fences are stripped,
// raw line breaks inside string literals are re-escaped, and the payload is
// decoded into the expected shape. Closed enumerations fall back to a
// designated value instead of failing the record. Verdict parsing never
// fails; a reply that cannot be decoded at all becomes an INDECISIVE verdict
// flagged for human review.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ahrav/go-warden/internal/domain"
)

// BriefLimit is the number of runes of an unparseable reply kept as the
// brief report of a degraded verdict.
const BriefLimit = 150

// FlagUnparseable is attached to verdicts built from undecodable replies.
const FlagUnparseable = "unparseable_model_output"

// FlagUnknownStatus is attached when the status field held a value outside
// the closed set.
const FlagUnknownStatus = "unknown_compliance_status"

// ErrNoPayload indicates that a reply contained no structured payload.
var ErrNoPayload = errors.New("no structured payload found")

// ParseError reports a reply that could not be decoded into Shape.
type ParseError struct {
	// Shape names the expected structure (e.g. "verdict").
	Shape string
	// Raw is the reply exactly as received.
	Raw string
	// Err is the underlying decode or validation error.
	Err error
}

// Error implements the error interface for ParseError.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Shape, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error { return e.Err }

// Decode runs the fence-strip and repair passes over raw and unmarshals the
// result into v. Failures are returned as *ParseError.
func Decode(raw, shape string, v any) error {
	payload := StripFences(raw)
	if payload == "" || !looksStructured(payload) {
		return &ParseError{Shape: shape, Raw: raw, Err: ErrNoPayload}
	}

	if err := json.Unmarshal([]byte(RepairNewlines(payload)), v); err != nil {
		return &ParseError{Shape: shape, Raw: raw, Err: err}
	}
	return nil
}

// fields is a decoded JSON object with folded keys so that "Brief_report",
// "brief_report" and "BRIEF_REPORT" are interchangeable.
type fields map[string]json.RawMessage

func decodeFields(raw, shape string) (fields, error) {
	var obj map[string]json.RawMessage
	if err := Decode(raw, shape, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, &ParseError{Shape: shape, Raw: raw, Err: ErrNoPayload}
	}
	out := make(fields, len(obj))
	for k, v := range obj {
		out[strings.ToLower(k)] = v
	}
	return out, nil
}

// first returns the first key present.
func (f fields) first(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok && !isNull(v) {
			return v, true
		}
	}
	return nil, false
}

func (f fields) str(keys ...string) string {
	v, ok := f.first(keys...)
	if !ok {
		return ""
	}
	return asString(v)
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// asString decodes a string value, or renders any other value as compact
// JSON so that no model output is silently lost.
func asString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return string(v)
	}
	return buf.String()
}

// asStrings accepts a list of strings, a single string, or a list of
// arbitrary values. Blank entries are dropped.
func asStrings(v json.RawMessage) []string {
	var list []json.RawMessage
	if err := json.Unmarshal(v, &list); err != nil {
		if s := strings.TrimSpace(asString(v)); s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s := strings.TrimSpace(asString(item)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// asBool accepts JSON booleans and the strings "true"/"yes"/"1".
func asBool(v json.RawMessage) bool {
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return b
	}
	switch strings.ToLower(strings.TrimSpace(asString(v))) {
	case "true", "yes", "1":
		return true
	default:
		return false
	}
}

// ParseVerdict converts a model reply into an ImageVerdict. It never fails:
// an undecodable reply yields Degraded(raw). A status outside the closed set
// becomes INDECISIVE and is flagged for review.
func ParseVerdict(raw string) domain.ImageVerdict {
	f, err := decodeFields(raw, "verdict")
	if err != nil {
		return Degraded(raw)
	}

	status := f.str("compliance_status", "compliance", "status")
	compliance, known := NormalizeCompliance(status, domain.Indecisive)

	v := domain.ImageVerdict{
		Compliance:  compliance,
		BriefReport: f.str("brief_report", "brief", "summary"),
		FullReport:  f.str("full_report", "report", "detailed_report"),
	}
	if flags, ok := f.first("flags"); ok {
		v.Flags = asStrings(flags)
	}
	if review, ok := f.first("needs_human_review"); ok {
		v.NeedsHumanReview = asBool(review)
	}

	if !known {
		v.NeedsHumanReview = true
		v.Flags = append(v.Flags, FlagUnknownStatus)
	}
	if v.Flags == nil {
		v.Flags = []string{}
	}
	return v
}

// Degraded builds the uniform verdict for a reply that could not be parsed.
// The raw text is preserved in full and, truncated, as the brief report.
func Degraded(raw string) domain.ImageVerdict {
	return domain.ImageVerdict{
		Compliance:       domain.Indecisive,
		Flags:            []string{FlagUnparseable},
		BriefReport:      Truncate(strings.TrimSpace(raw), BriefLimit),
		FullReport:       raw,
		NeedsHumanReview: true,
	}
}

// Truncate shortens s to limit runes followed by "..." when it is longer.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}

// ParseInstruction converts a compiler reply into a ControlInstruction.
// Both the nested wire shape
//
//	{"description_control": "...", "requirements_control": {"Audit_Instructions": [...]}}
//
// and a flat "audit_instructions" list are accepted. The result is
// validated; failures are returned as *ParseError.
func ParseInstruction(raw string) (domain.ControlInstruction, error) {
	f, err := decodeFields(raw, "instruction")
	if err != nil {
		return domain.ControlInstruction{}, err
	}

	ci := domain.ControlInstruction{
		DescriptionControl: strings.TrimSpace(f.str("description_control", "description")),
	}

	steps, ok := f.first("audit_instructions", "instructions")
	if !ok {
		if nested, found := f.first("requirements_control"); found {
			var inner map[string]json.RawMessage
			if json.Unmarshal(nested, &inner) == nil {
				for k, v := range inner {
					if strings.EqualFold(k, "audit_instructions") {
						steps, ok = v, true
						break
					}
				}
			} else {
				steps, ok = nested, true
			}
		}
	}
	if ok {
		ci.AuditInstructions = asStrings(steps)
	}

	if err := ci.Validate(); err != nil {
		return domain.ControlInstruction{}, &ParseError{Shape: "instruction", Raw: raw, Err: err}
	}
	return ci, nil
}
