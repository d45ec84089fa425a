package service

import (
	"context"
	"math"

	"github.com/hla-match-prediction/internal/domain"
)

// DefaultMaxGenotypeCount bounds a subject's candidate genotype cross join
const DefaultMaxGenotypeCount int64 = 2_000_000

// cancellationCheckInterval is how many genotypes are emitted between context checks
const cancellationCheckInterval = 1024

// CompressedPhenotypeExpander combines per-locus pair sets into full
// candidate genotypes. Candidates are streamed, never materialized, and
// the cross join is rejected up front when it would exceed the bound.
type CompressedPhenotypeExpander struct {
	maxGenotypeCount int64
}

// NewCompressedPhenotypeExpander creates an expander with the given bound
func NewCompressedPhenotypeExpander(maxGenotypeCount int64) *CompressedPhenotypeExpander {
	if maxGenotypeCount <= 0 {
		maxGenotypeCount = DefaultMaxGenotypeCount
	}
	return &CompressedPhenotypeExpander{maxGenotypeCount: maxGenotypeCount}
}

// MaxGenotypeCount returns the configured bound
func (e *CompressedPhenotypeExpander) MaxGenotypeCount() int64 {
	return e.maxGenotypeCount
}

// CountGenotypes returns the size of the cross join. saturated is set when
// the product does not fit in an int64, in which case count is MaxInt64.
// A phenotype with every locus excluded has exactly one (empty) genotype.
func CountGenotypes(expanded ExpandedPhenotype) (count int64, saturated bool) {
	count = 1
	for _, locus := range domain.MatchPredictionLoci {
		pairs, ok := expanded.At(locus).Get()
		if !ok {
			continue
		}
		n := int64(len(pairs))
		if n == 0 {
			return 0, false
		}
		if count > math.MaxInt64/n {
			return math.MaxInt64, true
		}
		count *= n
	}
	return count, false
}

// CheckBound returns the candidate count, or *domain.CombinatorialOverflowError
// when it exceeds the configured bound
func (e *CompressedPhenotypeExpander) CheckBound(subject string, expanded ExpandedPhenotype) (int64, error) {
	count, saturated := CountGenotypes(expanded)
	if saturated || count > e.maxGenotypeCount {
		return count, &domain.CombinatorialOverflowError{
			Subject:   subject,
			Count:     count,
			Limit:     e.maxGenotypeCount,
			Saturated: saturated,
		}
	}
	return count, nil
}

// ForEachGenotype walks the cross join in a fixed order, calling fn once
// per candidate genotype. It stops at the first error from fn and honours
// ctx cancellation.
func (e *CompressedPhenotypeExpander) ForEachGenotype(
	ctx context.Context,
	expanded ExpandedPhenotype,
	fn func(domain.UnambiguousGenotype) error,
) error {
	type dimension struct {
		locus domain.Locus
		pairs []domain.LocusInfo[string]
	}

	var (
		dims    []dimension
		current domain.UnambiguousGenotype
	)
	for _, locus := range domain.MatchPredictionLoci {
		pairs, ok := expanded.At(locus).Get()
		if !ok {
			continue
		}
		if len(pairs) == 0 {
			return nil
		}
		dims = append(dims, dimension{locus: locus, pairs: pairs})
		current.Set(locus, domain.Present(pairs[0]))
	}

	// Odometer over the present loci; the last dimension turns fastest
	indices := make([]int, len(dims))
	var emitted int
	for {
		if emitted%cancellationCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := fn(current); err != nil {
			return err
		}
		emitted++

		i := len(dims) - 1
		for ; i >= 0; i-- {
			indices[i]++
			if indices[i] < len(dims[i].pairs) {
				current.Set(dims[i].locus, domain.Present(dims[i].pairs[indices[i]]))
				break
			}
			indices[i] = 0
			current.Set(dims[i].locus, domain.Present(dims[i].pairs[0]))
		}
		if i < 0 {
			return nil
		}
	}
}
