package audit

import (
	"strings"
	"time"

	"github.com/ahrav/go-warden/internal/domain"
)

// PrecedenceAggregator reduces per-image verdicts with a fixed precedence:
// any NON-COMPLIANT wins, then any INDECISIVE, otherwise COMPLIANT.
// Flags are concatenated in input order without de-duplication, reports
// are newline-joined, and review is the OR of all inputs.
type PrecedenceAggregator struct {
	// now stamps CreatedAt; tests replace it.
	now func() time.Time
}

var _ domain.VerdictAggregator = (*PrecedenceAggregator)(nil)

// NewPrecedenceAggregator creates a PrecedenceAggregator.
func NewPrecedenceAggregator() *PrecedenceAggregator {
	return &PrecedenceAggregator{now: time.Now}
}

// Aggregate combines verdicts. It returns domain.ErrEmptyEvidence for an
// empty slice.
func (a *PrecedenceAggregator) Aggregate(verdicts []domain.ImageVerdict) (domain.AggregatedVerdict, error) {
	if len(verdicts) == 0 {
		return domain.AggregatedVerdict{}, domain.ErrEmptyEvidence
	}

	decision := domain.Compliant
	flags := make([]string, 0, len(verdicts))
	briefs := make([]string, 0, len(verdicts))
	fulls := make([]string, 0, len(verdicts))
	review := false

	for _, v := range verdicts {
		c := v.Compliance
		if !c.Valid() {
			c = domain.Indecisive
			review = true
		}
		if c.Severity() > decision.Severity() {
			decision = c
		}
		flags = append(flags, v.Flags...)
		briefs = append(briefs, v.BriefReport)
		fulls = append(fulls, v.FullReport)
		review = review || v.NeedsHumanReview
	}

	now := time.Now
	if a != nil && a.now != nil {
		now = a.now
	}

	return domain.AggregatedVerdict{
		Compliance:       decision,
		Flags:            flags,
		BriefReport:      strings.Join(briefs, "\n"),
		FullReport:       strings.Join(fulls, "\n"),
		NeedsHumanReview: review,
		ImageCount:       len(verdicts),
		Images:           append([]domain.ImageVerdict(nil), verdicts...),
		CreatedAt:        now().UTC(),
	}, nil
}
