package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestVerdictAggregatorInterface verifies the contract of the
// VerdictAggregator interface can be satisfied.
func TestVerdictAggregatorInterface(t *testing.T) {
	var aggregator VerdictAggregator = stubAggregator{}

	got, err := aggregator.Aggregate([]ImageVerdict{{Compliance: Compliant}})
	assert.NoError(t, err)
	assert.Equal(t, 1, got.ImageCount)

	_, err = aggregator.Aggregate(nil)
	assert.ErrorIs(t, err, ErrEmptyEvidence)
}

type stubAggregator struct{}

func (stubAggregator) Aggregate(verdicts []ImageVerdict) (AggregatedVerdict, error) {
	if len(verdicts) == 0 {
		return AggregatedVerdict{}, ErrEmptyEvidence
	}
	return AggregatedVerdict{Compliance: verdicts[0].Compliance, ImageCount: len(verdicts)}, nil
}
