package domain

import (
	"sort"
	"strings"
)

// GenotypeLocus is the resolved pair at one locus, or Excluded
type GenotypeLocus = Option[LocusInfo[string]]

// UnambiguousGenotype carries a single P-group-equivalent at every
// position of every match prediction locus that is not excluded. DPB1 is
// always Excluded. The type is comparable and used as a map key.
type UnambiguousGenotype = LociInfo[GenotypeLocus]

// GenotypeString renders a genotype for logs and API output, e.g.
// "A*01:01/02:01|B*08:01/44:02|..."
func GenotypeString(g UnambiguousGenotype) string {
	parts := make([]string, 0, len(MatchPredictionLoci))
	for _, locus := range MatchPredictionLoci {
		info, ok := g.At(locus).Get()
		if !ok {
			continue
		}
		parts = append(parts, locus.String()+"*"+info.Position1+"/"+info.Position2)
	}
	return strings.Join(parts, "|")
}

// GenotypeLikelihood is one candidate genotype with its probability mass
type GenotypeLikelihood struct {
	Genotype   UnambiguousGenotype `json:"genotype"`
	Likelihood float64             `json:"likelihood"`
}

// GenotypeLikelihoods is the normalized genotype distribution of one subject.
// Genotypes with zero raw likelihood are dropped; the remaining masses sum to 1
// unless ZeroMass is set, in which case the map is empty.
type GenotypeLikelihoods struct {
	Likelihoods         map[UnambiguousGenotype]float64 `json:"-"`
	RawTotal            float64                         `json:"raw_total"`
	CandidateCount      int64                           `json:"candidate_count"`
	ZeroMass            bool                            `json:"zero_mass"`
	FrequencySetID      int64                           `json:"frequency_set_id"`
	ExcludedLoci        LocusSet                        `json:"-"`
	NomenclatureVersion string                          `json:"nomenclature_version"`
}

// Sorted returns the distribution ordered by descending likelihood, ties
// broken on the genotype string so output is stable.
func (g *GenotypeLikelihoods) Sorted() []GenotypeLikelihood {
	out := make([]GenotypeLikelihood, 0, len(g.Likelihoods))
	for genotype, l := range g.Likelihoods {
		out = append(out, GenotypeLikelihood{Genotype: genotype, Likelihood: l})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Likelihood != out[j].Likelihood {
			return out[i].Likelihood > out[j].Likelihood
		}
		return GenotypeString(out[i].Genotype) < GenotypeString(out[j].Genotype)
	})
	return out
}

// Haplotype is a five locus tuple of allele groups inherited together.
// An empty field means the locus is not typed and is marginalized over.
type Haplotype struct {
	A    string `json:"A"`
	B    string `json:"B"`
	C    string `json:"C"`
	Dqb1 string `json:"DQB1"`
	Drb1 string `json:"DRB1"`
}

// At returns the allele group at the given locus
func (h Haplotype) At(locus Locus) string {
	switch locus {
	case LocusA:
		return h.A
	case LocusB:
		return h.B
	case LocusC:
		return h.C
	case LocusDqb1:
		return h.Dqb1
	case LocusDrb1:
		return h.Drb1
	}
	return ""
}

// With returns a copy with the locus value replaced. DPB1 is ignored.
func (h Haplotype) With(locus Locus, value string) Haplotype {
	switch locus {
	case LocusA:
		h.A = value
	case LocusB:
		h.B = value
	case LocusC:
		h.C = value
	case LocusDqb1:
		h.Dqb1 = value
	case LocusDrb1:
		h.Drb1 = value
	}
	return h
}

// Mask keeps only the loci present in mask, clearing the rest
func (h Haplotype) Mask(mask LocusMask) Haplotype {
	var out Haplotype
	for _, locus := range MatchPredictionLoci {
		if mask.Has(locus) {
			out = out.With(locus, h.At(locus))
		}
	}
	return out
}

// String renders the haplotype as "A~B~C~DQB1~DRB1"
func (h Haplotype) String() string {
	return strings.Join([]string{h.A, h.B, h.C, h.Dqb1, h.Drb1}, "~")
}

// LocusMask is a bit set over the match prediction loci
type LocusMask uint8

// FullLocusMask has every match prediction locus set
var FullLocusMask = MaskOf(MatchPredictionLoci...)

// MaskOf builds a mask from loci
func MaskOf(loci ...Locus) LocusMask {
	var m LocusMask
	for _, l := range loci {
		m |= 1 << uint(l)
	}
	return m
}

// Has reports whether the locus bit is set
func (m LocusMask) Has(l Locus) bool {
	return m&(1<<uint(l)) != 0
}

// GenotypeMask returns the mask of loci present in a genotype
func GenotypeMask(g UnambiguousGenotype) LocusMask {
	var m LocusMask
	for _, locus := range MatchPredictionLoci {
		if g.At(locus).IsPresent() {
			m |= 1 << uint(locus)
		}
	}
	return m
}
