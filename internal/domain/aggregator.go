package domain

// VerdictAggregator combines per-image verdicts for one control into a
// single AggregatedVerdict.
//
// Implementations must be insensitive to input order for the decision,
// the review flag and the multiset of flags, and must return
// ErrEmptyEvidence when called with no verdicts rather than inventing a
// decision.
//
// Example:
//
//	verdicts := []ImageVerdict{{Compliance: Compliant}, {Compliance: Indecisive}}
//	agg, err := aggregator.Aggregate(verdicts)
//	// agg.Compliance == Indecisive
type VerdictAggregator interface {
	Aggregate(verdicts []ImageVerdict) (AggregatedVerdict, error)
}
