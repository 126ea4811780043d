package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Compliance is the closed set of decisions an evidence evaluation can
// reach.
type Compliance string

// Compliance values, spelled as they appear on the wire.
const (
	Compliant    Compliance = "COMPLIANT"
	NonCompliant Compliance = "NON-COMPLIANT"
	Indecisive   Compliance = "INDECISIVE"
)

// Compliances lists every valid Compliance value in precedence order,
// strongest first.
var Compliances = []Compliance{NonCompliant, Indecisive, Compliant}

// Valid reports whether c is one of the three known decisions.
func (c Compliance) Valid() bool {
	switch c {
	case Compliant, NonCompliant, Indecisive:
		return true
	default:
		return false
	}
}

// Severity ranks decisions for aggregation. Higher wins.
func (c Compliance) Severity() int {
	switch c {
	case NonCompliant:
		return 2
	case Indecisive:
		return 1
	default:
		return 0
	}
}

// UnmarshalJSON rejects values outside the closed set so that stored
// verdicts can never carry an unknown decision.
func (c *Compliance) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v := Compliance(s)
	if !v.Valid() {
		return fmt.Errorf("%w: unknown compliance %q", ErrInvalidVerdict, s)
	}
	*c = v
	return nil
}

// ImageVerdict is the evaluation outcome for a single evidence image.
type ImageVerdict struct {
	// ImageID identifies the evaluated image (file name or URL).
	ImageID string `json:"image_id"`

	// Compliance is the decision reached for this image.
	Compliance Compliance `json:"compliance_status"`

	// Flags lists issues, missing items or follow-ups raised by the model.
	Flags []string `json:"flags"`

	// BriefReport is a short summary of the findings.
	BriefReport string `json:"brief_report"`

	// FullReport is the detailed reasoning, or the failure text when the
	// evaluation could not be completed.
	FullReport string `json:"full_report"`

	// NeedsHumanReview is set whenever a person must confirm the decision.
	NeedsHumanReview bool `json:"needs_human_review"`
}

// AggregatedVerdict combines every ImageVerdict produced for one control.
type AggregatedVerdict struct {
	// ControlID identifies the control the evidence was evaluated against.
	ControlID string `json:"control_id,omitempty"`

	Compliance       Compliance `json:"compliance_status"`
	Flags            []string   `json:"flags"`
	BriefReport      string     `json:"brief_report"`
	FullReport       string     `json:"full_report"`
	NeedsHumanReview bool       `json:"needs_human_review"`

	// ImageCount is the number of per-image verdicts that were combined.
	ImageCount int `json:"image_count"`

	// Images keeps the per-image verdicts in input order.
	Images []ImageVerdict `json:"images,omitempty"`

	// CreatedAt records when aggregation happened.
	CreatedAt time.Time `json:"created_at"`
}

// Summary renders the verdict as plain text suitable for grounding a chat
// session.
func (v AggregatedVerdict) Summary() string {
	return fmt.Sprintf("Compliance: %s\nNeeds human review: %t\nFlags: %v\nBrief report:\n%s\nFull report:\n%s",
		v.Compliance, v.NeedsHumanReview, v.Flags, v.BriefReport, v.FullReport)
}
