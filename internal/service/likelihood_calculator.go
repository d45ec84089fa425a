package service

import "github.com/hla-match-prediction/internal/domain"

// FrequencySource answers haplotype frequency queries. mask marks the loci
// typed in h; other loci are marginalized over. Absent haplotypes return 0.
type FrequencySource interface {
	Frequency(h domain.Haplotype, mask domain.LocusMask) float64
}

// GenotypeLikelihoodCalculator computes the un-normalized population
// likelihood of a single unambiguous genotype
type GenotypeLikelihoodCalculator struct{}

// NewGenotypeLikelihoodCalculator creates a calculator
func NewGenotypeLikelihoodCalculator() *GenotypeLikelihoodCalculator {
	return &GenotypeLikelihoodCalculator{}
}

// CalculateLikelihood sums the Hardy-Weinberg probability of every haplotype
// pair that could make up the genotype.
//
// Only the pairing within a locus is observed, not across loci. The first
// heterozygous locus is fixed as the reference and every same/swapped
// combination of the other heterozygous loci is one pairing hypothesis.
// Swapping a homozygous locus yields the same pair, so homozygous loci are
// not enumerated and each distinct diplotype contributes exactly once.
// A pair contributes 2*f(h1)*f(h2) when h1 != h2, and f(h1)^2 otherwise.
func (c *GenotypeLikelihoodCalculator) CalculateLikelihood(genotype domain.UnambiguousGenotype, source FrequencySource) float64 {
	var (
		base         [2]domain.Haplotype
		heterozygous []domain.Locus
		values       []domain.LocusInfo[string]
	)
	mask := domain.GenotypeMask(genotype)

	for _, locus := range domain.MatchPredictionLoci {
		info, ok := genotype.At(locus).Get()
		if !ok {
			continue
		}
		base[0] = base[0].With(locus, info.Position1)
		base[1] = base[1].With(locus, info.Position2)
		if info.Position1 != info.Position2 {
			heterozygous = append(heterozygous, locus)
			values = append(values, info)
		}
	}

	if len(heterozygous) == 0 {
		f := source.Frequency(base[0], mask)
		return f * f
	}

	// Bit i-1 of the hypothesis swaps heterozygous locus i; locus 0 is the reference
	hypotheses := 1 << uint(len(heterozygous)-1)
	var likelihood float64
	for hypothesis := 0; hypothesis < hypotheses; hypothesis++ {
		h1, h2 := base[0], base[1]
		for i := 1; i < len(heterozygous); i++ {
			if hypothesis&(1<<uint(i-1)) == 0 {
				continue
			}
			swapped := values[i].Swap()
			h1 = h1.With(heterozygous[i], swapped.Position1)
			h2 = h2.With(heterozygous[i], swapped.Position2)
		}
		likelihood += pairContribution(source.Frequency(h1, mask), source.Frequency(h2, mask))
	}
	return likelihood
}

// pairContribution is called only for heterozygous diplotypes, whose two
// haplotypes always differ
func pairContribution(f1, f2 float64) float64 {
	return 2 * f1 * f2
}
