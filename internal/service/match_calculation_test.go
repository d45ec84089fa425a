package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hla-match-prediction/internal/domain"
)

func expectedCounts(a, b, c, dqb1, drb1 int) domain.LociInfo[domain.Option[int]] {
	return domain.LociInfo[domain.Option[int]]{
		A:    domain.Present(a),
		B:    domain.Present(b),
		C:    domain.Present(c),
		Dqb1: domain.Present(dqb1),
		Drb1: domain.Present(drb1),
	}
}

func TestMatchCalculationService_Scenarios(t *testing.T) {
	matcher := NewMatchCalculationService()
	patient := referencePhenotype()

	tests := []struct {
		name     string
		donor    domain.PhenotypeInfo[string]
		expected domain.LociInfo[domain.Option[int]]
	}{
		{
			name:     "identical genotypes",
			donor:    referencePhenotype(),
			expected: expectedCounts(2, 2, 2, 2, 2),
		},
		{
			name:     "donor homozygous at B",
			donor:    referencePhenotype().With(domain.LocusB, domain.NewLocusInfo("08:182", "08:182")),
			expected: expectedCounts(2, 1, 2, 2, 2),
		},
		{
			name:     "donor A disjoint from patient",
			donor:    referencePhenotype().With(domain.LocusA, domain.NewLocusInfo("11:03", "11:03")),
			expected: expectedCounts(0, 2, 2, 2, 2),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counts := matcher.CalculateMatchCounts(genotypeOf(patient), genotypeOf(tt.donor), nil)
			assert.Equal(t, tt.expected, counts)
		})
	}
}

func TestMatchCalculationService_ExcludedAndUntypedLoci(t *testing.T) {
	matcher := NewMatchCalculationService()
	patient := genotypeOf(referencePhenotype())
	donor := genotypeOf(referencePhenotype().With(domain.LocusC, domain.NewLocusInfo("", "")))

	counts := matcher.CalculateMatchCounts(patient, donor, domain.NewLocusSet(domain.LocusDqb1))

	assert.False(t, counts.C.IsPresent(), "untyped on one side is absent, not zero")
	assert.False(t, counts.Dqb1.IsPresent(), "excluded by caller")
	assert.False(t, counts.Dpb1.IsPresent())
	assert.Equal(t, 2, counts.A.OrElse(-1))
	assert.Equal(t, 2, counts.Drb1.OrElse(-1))
}

func TestLocusMatchCount(t *testing.T) {
	tests := []struct {
		name     string
		p, d     domain.LocusInfo[string]
		expected int
	}{
		{"same order", domain.NewLocusInfo("01:01", "02:01"), domain.NewLocusInfo("01:01", "02:01"), 2},
		{"crossed", domain.NewLocusInfo("01:01", "02:01"), domain.NewLocusInfo("02:01", "01:01"), 2},
		{"homozygous equal", domain.NewLocusInfo("01:01", "01:01"), domain.NewLocusInfo("01:01", "01:01"), 2},
		{"one shared", domain.NewLocusInfo("01:01", "02:01"), domain.NewLocusInfo("02:01", "03:01"), 1},
		{"homozygous against heterozygous", domain.NewLocusInfo("01:01", "01:01"), domain.NewLocusInfo("01:01", "02:01"), 1},
		{"disjoint", domain.NewLocusInfo("01:01", "02:01"), domain.NewLocusInfo("03:01", "11:01"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, LocusMatchCount(tt.p, tt.d))
		})
	}
}

// propertyGenotypes covers homozygous, heterozygous and partially shared loci
func propertyGenotypes() []domain.UnambiguousGenotype {
	base := referencePhenotype()
	return []domain.UnambiguousGenotype{
		genotypeOf(base),
		genotypeOf(base.With(domain.LocusA, domain.NewLocusInfo("02:66", "02:09"))),
		genotypeOf(base.With(domain.LocusB, domain.NewLocusInfo("08:182", "08:182"))),
		genotypeOf(base.With(domain.LocusA, domain.NewLocusInfo("11:03", "11:03"))),
		genotypeOf(base.With(domain.LocusDrb1, domain.NewLocusInfo("11:129", "04:01")).
			With(domain.LocusC, domain.NewLocusInfo("07:01", "03:05"))),
		genotypeOf(phenotype("01:01", "24:02", "07:02", "44:02", "05:01", "07:02", "02:01", "06:02", "03:01", "15:01")),
	}
}

func swapAll(g domain.UnambiguousGenotype) domain.UnambiguousGenotype {
	return domain.MapLoci(g, func(_ domain.Locus, o domain.GenotypeLocus) domain.GenotypeLocus {
		return domain.MapOption(o, domain.LocusInfo[string].Swap)
	})
}

func TestMatchCalculationService_Properties(t *testing.T) {
	matcher := NewMatchCalculationService()
	genotypes := propertyGenotypes()

	t.Run("self match is 2 at every locus", func(t *testing.T) {
		for _, g := range genotypes {
			assert.Equal(t, expectedCounts(2, 2, 2, 2, 2), matcher.CalculateMatchCounts(g, g, nil))
		}
	})

	t.Run("symmetric", func(t *testing.T) {
		for _, p := range genotypes {
			for _, d := range genotypes {
				assert.Equal(t,
					matcher.CalculateMatchCounts(p, d, nil),
					matcher.CalculateMatchCounts(d, p, nil))
			}
		}
	})

	t.Run("position swap invariant", func(t *testing.T) {
		for _, p := range genotypes {
			for _, d := range genotypes {
				expected := matcher.CalculateMatchCounts(p, d, nil)
				assert.Equal(t, expected, matcher.CalculateMatchCounts(swapAll(p), d, nil))
				assert.Equal(t, expected, matcher.CalculateMatchCounts(p, swapAll(d), nil))

				// Swapping a single locus on one side
				single := p.With(domain.LocusB, domain.MapOption(p.B, domain.LocusInfo[string].Swap))
				assert.Equal(t, expected, matcher.CalculateMatchCounts(single, d, nil))
			}
		}
	})
}
