package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-warden/internal/domain"
)

func fixedAggregator() *PrecedenceAggregator {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &PrecedenceAggregator{now: func() time.Time { return at }}
}

func verdict(c domain.Compliance, review bool, flags ...string) domain.ImageVerdict {
	return domain.ImageVerdict{
		ImageID:          string(c),
		Compliance:       c,
		Flags:            flags,
		BriefReport:      "brief " + string(c),
		FullReport:       "full " + string(c),
		NeedsHumanReview: review,
	}
}

func TestPrecedenceAggregator_Decision(t *testing.T) {
	tests := []struct {
		name     string
		verdicts []domain.ImageVerdict
		want     domain.Compliance
	}{
		{
			name:     "all compliant",
			verdicts: []domain.ImageVerdict{verdict(domain.Compliant, false), verdict(domain.Compliant, false)},
			want:     domain.Compliant,
		},
		{
			name:     "indecisive beats compliant",
			verdicts: []domain.ImageVerdict{verdict(domain.Compliant, false), verdict(domain.Indecisive, false)},
			want:     domain.Indecisive,
		},
		{
			name: "non-compliant beats everything",
			verdicts: []domain.ImageVerdict{
				verdict(domain.Indecisive, true), verdict(domain.Compliant, false), verdict(domain.NonCompliant, false),
			},
			want: domain.NonCompliant,
		},
		{
			name:     "single verdict",
			verdicts: []domain.ImageVerdict{verdict(domain.NonCompliant, false)},
			want:     domain.NonCompliant,
		},
		{
			name:     "unknown decision counts as indecisive",
			verdicts: []domain.ImageVerdict{verdict(domain.Compliant, false), verdict("MAYBE", false)},
			want:     domain.Indecisive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fixedAggregator().Aggregate(tt.verdicts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Compliance)
			assert.Equal(t, len(tt.verdicts), got.ImageCount)
		})
	}
}

func TestPrecedenceAggregator_PermutationInvariant(t *testing.T) {
	a := verdict(domain.Compliant, false, "a")
	b := verdict(domain.Indecisive, true, "b")
	c := verdict(domain.NonCompliant, false, "c")

	perms := [][]domain.ImageVerdict{
		{a, b, c}, {a, c, b}, {b, a, c}, {b, c, a}, {c, a, b}, {c, b, a},
	}
	for _, p := range perms {
		got, err := fixedAggregator().Aggregate(p)
		require.NoError(t, err)
		assert.Equal(t, domain.NonCompliant, got.Compliance)
		assert.True(t, got.NeedsHumanReview)
		assert.ElementsMatch(t, []string{"a", "b", "c"}, got.Flags)
	}
}

func TestPrecedenceAggregator_Combines(t *testing.T) {
	verdicts := []domain.ImageVerdict{
		verdict(domain.Compliant, false, "dup", "x"),
		verdict(domain.Compliant, false, "dup"),
		verdict(domain.Compliant, true),
	}

	got, err := fixedAggregator().Aggregate(verdicts)
	require.NoError(t, err)

	assert.Equal(t, []string{"dup", "x", "dup"}, got.Flags, "flags keep order and duplicates")
	assert.Equal(t, "brief COMPLIANT\nbrief COMPLIANT\nbrief COMPLIANT", got.BriefReport)
	assert.Equal(t, "full COMPLIANT\nfull COMPLIANT\nfull COMPLIANT", got.FullReport)
	assert.True(t, got.NeedsHumanReview, "review is the OR of all inputs")
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), got.CreatedAt)
	assert.Equal(t, verdicts, got.Images)

	got.Images[0].Flags = nil
	assert.NotNil(t, verdicts[0].Flags, "aggregate does not alias its input slice")
}

func TestPrecedenceAggregator_NoReview(t *testing.T) {
	got, err := fixedAggregator().Aggregate([]domain.ImageVerdict{verdict(domain.Compliant, false)})
	require.NoError(t, err)
	assert.False(t, got.NeedsHumanReview)
	assert.Empty(t, got.Flags)
	assert.NotNil(t, got.Flags)
}

func TestPrecedenceAggregator_Empty(t *testing.T) {
	_, err := NewPrecedenceAggregator().Aggregate(nil)
	assert.ErrorIs(t, err, domain.ErrEmptyEvidence)

	_, err = NewPrecedenceAggregator().Aggregate([]domain.ImageVerdict{})
	assert.ErrorIs(t, err, domain.ErrEmptyEvidence)
}
