package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hla-match-prediction/internal/domain"
)

func excludedExpansion() ExpandedPhenotype {
	var expanded ExpandedPhenotype
	for _, locus := range domain.AllLoci {
		expanded.Set(locus, domain.Excluded[[]domain.LocusInfo[string]]())
	}
	return expanded
}

func pairsOf(n int, prefix string) []domain.LocusInfo[string] {
	pairs := make([]domain.LocusInfo[string], n)
	for i := range pairs {
		pairs[i] = domain.NewLocusInfo(prefix+"01", fmt.Sprintf("%s%02d", prefix, i+1))
	}
	return pairs
}

func TestCountGenotypes(t *testing.T) {
	expanded := excludedExpansion()
	expanded.A = domain.Present(pairsOf(2, "a"))
	expanded.B = domain.Present(pairsOf(3, "b"))
	expanded.Drb1 = domain.Present(pairsOf(4, "r"))

	count, saturated := CountGenotypes(expanded)
	assert.Equal(t, int64(24), count)
	assert.False(t, saturated)

	count, saturated = CountGenotypes(excludedExpansion())
	assert.Equal(t, int64(1), count, "no present loci is a single empty genotype")
	assert.False(t, saturated)
}

func TestCompressedPhenotypeExpander_CheckBound(t *testing.T) {
	t.Run("Over_The_Bound_Is_Rejected", func(t *testing.T) {
		expander := NewCompressedPhenotypeExpander(1000)
		expanded := excludedExpansion()
		for _, locus := range domain.MatchPredictionLoci {
			expanded.Set(locus, domain.Present(pairsOf(10, locus.String())))
		}

		count, err := expander.CheckBound("donor D7", expanded)
		require.Error(t, err)

		var overflowErr *domain.CombinatorialOverflowError
		require.True(t, errors.As(err, &overflowErr))
		assert.Equal(t, int64(100000), count)
		assert.Equal(t, int64(100000), overflowErr.Count)
		assert.Equal(t, int64(1000), overflowErr.Limit)
		assert.Equal(t, "donor D7", overflowErr.Subject)
		assert.False(t, overflowErr.Saturated)
	})

	t.Run("Saturated_Count", func(t *testing.T) {
		expander := NewCompressedPhenotypeExpander(0)
		expanded := excludedExpansion()
		for _, locus := range domain.MatchPredictionLoci {
			expanded.Set(locus, domain.Present(make([]domain.LocusInfo[string], 10000)))
		}

		count, err := expander.CheckBound("patient", expanded)
		var overflowErr *domain.CombinatorialOverflowError
		require.True(t, errors.As(err, &overflowErr))
		assert.True(t, overflowErr.Saturated)
		assert.Equal(t, int64(math.MaxInt64), count)
		assert.Equal(t, DefaultMaxGenotypeCount, overflowErr.Limit)
	})

	t.Run("Within_The_Bound", func(t *testing.T) {
		expander := NewCompressedPhenotypeExpander(6)
		expanded := excludedExpansion()
		expanded.A = domain.Present(pairsOf(2, "a"))
		expanded.B = domain.Present(pairsOf(3, "b"))

		count, err := expander.CheckBound("patient", expanded)
		require.NoError(t, err)
		assert.Equal(t, int64(6), count)
	})
}

func TestCompressedPhenotypeExpander_ForEachGenotype(t *testing.T) {
	ctx := context.Background()
	expander := NewCompressedPhenotypeExpander(0)

	t.Run("Streams_The_Full_Cross_Join", func(t *testing.T) {
		expanded := excludedExpansion()
		expanded.A = domain.Present(pairsOf(2, "a"))
		expanded.B = domain.Present(pairsOf(3, "b"))
		expanded.Drb1 = domain.Present(pairsOf(2, "r"))

		seen := make(map[domain.UnambiguousGenotype]struct{})
		err := expander.ForEachGenotype(ctx, expanded, func(g domain.UnambiguousGenotype) error {
			assert.True(t, g.A.IsPresent())
			assert.False(t, g.C.IsPresent())
			assert.False(t, g.Dqb1.IsPresent())
			assert.False(t, g.Dpb1.IsPresent())
			seen[g] = struct{}{}
			return nil
		})
		require.NoError(t, err)
		assert.Len(t, seen, 12)
	})

	t.Run("Deterministic_Order", func(t *testing.T) {
		expanded := excludedExpansion()
		expanded.A = domain.Present(pairsOf(3, "a"))
		expanded.B = domain.Present(pairsOf(2, "b"))

		collect := func() []string {
			var out []string
			_ = expander.ForEachGenotype(ctx, expanded, func(g domain.UnambiguousGenotype) error {
				out = append(out, domain.GenotypeString(g))
				return nil
			})
			return out
		}
		first := collect()
		assert.Equal(t, first, collect())
		assert.Equal(t, "A*a01/a01|B*b01/b01", first[0])
		assert.Equal(t, "A*a01/a01|B*b01/b02", first[1])
	})

	t.Run("Stops_On_Callback_Error", func(t *testing.T) {
		expanded := excludedExpansion()
		expanded.A = domain.Present(pairsOf(5, "a"))

		stop := errors.New("stop")
		calls := 0
		err := expander.ForEachGenotype(ctx, expanded, func(domain.UnambiguousGenotype) error {
			calls++
			if calls == 2 {
				return stop
			}
			return nil
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 2, calls)
	})

	t.Run("Honours_Cancellation", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		expanded := excludedExpansion()
		expanded.A = domain.Present(pairsOf(5, "a"))
		err := expander.ForEachGenotype(cancelled, expanded, func(domain.UnambiguousGenotype) error {
			t.Fatal("no genotype expected after cancellation")
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
