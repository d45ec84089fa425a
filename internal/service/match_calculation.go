package service

import "github.com/hla-match-prediction/internal/domain"

// MatchCalculationService counts matches between two unambiguous genotypes
type MatchCalculationService struct{}

// NewMatchCalculationService creates a match calculator
func NewMatchCalculationService() *MatchCalculationService {
	return &MatchCalculationService{}
}

// CalculateMatchCounts returns the per-locus match count. Loci that are
// excluded, or absent from either genotype, are Excluded rather than zero.
func (s *MatchCalculationService) CalculateMatchCounts(
	patient, donor domain.UnambiguousGenotype,
	excluded domain.LocusSet,
) domain.LociInfo[domain.Option[int]] {
	var counts domain.LociInfo[domain.Option[int]]
	for _, locus := range domain.MatchPredictionLoci {
		if excluded.Contains(locus) {
			continue
		}
		p, ok := patient.At(locus).Get()
		if !ok {
			continue
		}
		d, ok := donor.At(locus).Get()
		if !ok {
			continue
		}
		counts.Set(locus, domain.Present(LocusMatchCount(p, d)))
	}
	return counts
}

// LocusMatchCount is 2 when the pairs are equal ignoring order, 1 when any
// single value is shared, else 0
func LocusMatchCount(p, d domain.LocusInfo[string]) int {
	if (p.Position1 == d.Position1 && p.Position2 == d.Position2) ||
		(p.Position1 == d.Position2 && p.Position2 == d.Position1) {
		return 2
	}
	if p.Position1 == d.Position1 || p.Position1 == d.Position2 ||
		p.Position2 == d.Position1 || p.Position2 == d.Position2 {
		return 1
	}
	return 0
}
