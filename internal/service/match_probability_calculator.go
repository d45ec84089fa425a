package service

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hla-match-prediction/internal/domain"
)

// minReductionChunk keeps tiny distributions on a single goroutine
const minReductionChunk = 64

// MatchProbabilityCalculator reduces the patient x donor genotype cross
// product into match grade probabilities
type MatchProbabilityCalculator struct {
	matcher *MatchCalculationService
	workers int
}

// NewMatchProbabilityCalculator creates a calculator. workers <= 0 uses GOMAXPROCS.
func NewMatchProbabilityCalculator(workers int) *MatchProbabilityCalculator {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &MatchProbabilityCalculator{
		matcher: NewMatchCalculationService(),
		workers: workers,
	}
}

// IncludedLoci returns the model loci that are not excluded and are present
// in the genotypes of both subjects
func IncludedLoci(patient, donor *domain.GenotypeLikelihoods, excluded domain.LocusSet) []domain.Locus {
	patientMask, donorMask := distributionMask(patient), distributionMask(donor)
	var loci []domain.Locus
	for _, locus := range domain.MatchPredictionLoci {
		if excluded.Contains(locus) || !patientMask.Has(locus) || !donorMask.Has(locus) {
			continue
		}
		loci = append(loci, locus)
	}
	return loci
}

// distributionMask is the set of loci typed in a subject's genotypes. Every
// genotype of one subject carries the same loci.
func distributionMask(l *domain.GenotypeLikelihoods) domain.LocusMask {
	for genotype := range l.Likelihoods {
		return domain.GenotypeMask(genotype)
	}
	return 0
}

// matchSide is one subject's distribution with every genotype replaced by
// indices into the distinct values seen at each included locus
type matchSide struct {
	weights []float64
	indices [][]int // [genotype][included locus]
	values  [][]domain.LocusInfo[string]
}

func buildMatchSide(l *domain.GenotypeLikelihoods, loci []domain.Locus) *matchSide {
	sorted := l.Sorted()
	side := &matchSide{
		weights: make([]float64, len(sorted)),
		indices: make([][]int, len(sorted)),
		values:  make([][]domain.LocusInfo[string], len(loci)),
	}
	seen := make([]map[domain.LocusInfo[string]]int, len(loci))
	for i := range seen {
		seen[i] = make(map[domain.LocusInfo[string]]int)
	}

	for g, entry := range sorted {
		side.weights[g] = entry.Likelihood
		row := make([]int, len(loci))
		for i, locus := range loci {
			info, _ := entry.Genotype.At(locus).Get()
			idx, ok := seen[i][info]
			if !ok {
				idx = len(side.values[i])
				seen[i][info] = idx
				side.values[i] = append(side.values[i], info)
			}
			row[i] = idx
		}
		side.indices[g] = row
	}
	return side
}

// reductionBuckets accumulates joint weight per outcome
type reductionBuckets struct {
	perLocus [][domain.MaxMatchCountPerLocus + 1]Weight
	total    []Weight
	all      Weight
}

func newReductionBuckets(lociCount int) *reductionBuckets {
	return &reductionBuckets{
		perLocus: make([][domain.MaxMatchCountPerLocus + 1]Weight, lociCount),
		total:    make([]Weight, lociCount*domain.MaxMatchCountPerLocus+1),
	}
}

func (b *reductionBuckets) merge(o *reductionBuckets) {
	for i := range b.perLocus {
		for c := range b.perLocus[i] {
			b.perLocus[i][c] = b.perLocus[i][c].Add(o.perLocus[i][c])
		}
	}
	for n := range b.total {
		b.total[n] = b.total[n].Add(o.total[n])
	}
	b.all = b.all.Add(o.all)
}

// CalculateMatchProbability returns the match grade distribution for one
// donor. Either side carrying zero mass yields domain.ErrPredictionImpossible.
//
// Per-locus match counts are computed once per pair of distinct locus
// values. The patient side is split into chunks reduced concurrently into
// fixed-point buckets; integer merging makes the result independent of
// chunking and scheduling.
func (c *MatchProbabilityCalculator) CalculateMatchProbability(
	ctx context.Context,
	patient, donor *domain.GenotypeLikelihoods,
	excluded domain.LocusSet,
) (*domain.MatchProbabilityResult, error) {
	if patient.ZeroMass || donor.ZeroMass || len(patient.Likelihoods) == 0 || len(donor.Likelihoods) == 0 {
		return nil, domain.ErrPredictionImpossible
	}

	loci := IncludedLoci(patient, donor, excluded)
	p := buildMatchSide(patient, loci)
	d := buildMatchSide(donor, loci)

	// matchCounts[l][pi][di] for distinct values at included locus l
	matchCounts := make([][][]int, len(loci))
	for l := range loci {
		matchCounts[l] = make([][]int, len(p.values[l]))
		for pi, pv := range p.values[l] {
			row := make([]int, len(d.values[l]))
			for di, dv := range d.values[l] {
				row[di] = LocusMatchCount(pv, dv)
			}
			matchCounts[l][pi] = row
		}
	}

	chunks := c.chunks(len(p.weights))
	partials := make([]*reductionBuckets, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, bounds := range chunks {
		buckets := newReductionBuckets(len(loci))
		partials[i] = buckets
		g.Go(func() error {
			for pg := bounds[0]; pg < bounds[1]; pg++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				pw, prow := p.weights[pg], p.indices[pg]
				for dg, dw := range d.weights {
					drow := d.indices[dg]
					w := WeightFromFloat(pw * dw)
					total := 0
					for l := range loci {
						count := matchCounts[l][prow[l]][drow[l]]
						buckets.perLocus[l][count] = buckets.perLocus[l][count].Add(w)
						total += count
					}
					buckets.total[total] = buckets.total[total].Add(w)
					buckets.all = buckets.all.Add(w)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := newReductionBuckets(len(loci))
	for _, partial := range partials {
		merged.merge(partial)
	}
	if merged.all.IsZero() {
		return nil, domain.ErrPredictionImpossible
	}

	return buildResult(loci, merged, len(p.weights), len(d.weights)), nil
}

// chunks splits n patient genotypes into at most workers contiguous ranges
func (c *MatchProbabilityCalculator) chunks(n int) [][2]int {
	size := (n + c.workers - 1) / c.workers
	if size < minReductionChunk {
		size = minReductionChunk
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

func buildResult(loci []domain.Locus, b *reductionBuckets, patientCount, donorCount int) *domain.MatchProbabilityResult {
	result := &domain.MatchProbabilityResult{
		IncludedLoci:               loci,
		MatchCountProbabilities:    make([]float64, len(b.total)),
		MismatchCountProbabilities: make([]float64, len(b.total)),
		PatientGenotypeCount:       patientCount,
		DonorGenotypeCount:         donorCount,
	}
	for _, locus := range domain.AllLoci {
		result.Loci.Set(locus, domain.Excluded[domain.LocusMatchProbabilities]())
	}
	for l, locus := range loci {
		result.Loci.Set(locus, domain.Present(domain.LocusMatchProbabilities{
			ZeroMatches: b.perLocus[l][0].Ratio(b.all),
			OneMatch:    b.perLocus[l][1].Ratio(b.all),
			TwoMatches:  b.perLocus[l][2].Ratio(b.all),
		}))
	}

	maxMatches := len(b.total) - 1
	for n := range b.total {
		probability := b.total[n].Ratio(b.all)
		result.MatchCountProbabilities[n] = probability
		result.MismatchCountProbabilities[maxMatches-n] = probability
	}
	result.ZeroMismatch = mismatchProbability(result.MismatchCountProbabilities, 0)
	result.OneMismatch = mismatchProbability(result.MismatchCountProbabilities, 1)
	result.TwoMismatches = mismatchProbability(result.MismatchCountProbabilities, 2)
	return result
}

func mismatchProbability(probabilities []float64, n int) float64 {
	if n < len(probabilities) {
		return probabilities[n]
	}
	return 0
}

// CalculateMatchDetails materializes every genotype pairing with its match
// counts. The service only calls it for requests that ask for details and
// whose cross product stays under MaxMatchDetailPairs.
func (c *MatchProbabilityCalculator) CalculateMatchDetails(
	patient, donor *domain.GenotypeLikelihoods,
	excluded domain.LocusSet,
) []domain.GenotypeMatchDetails {
	loci := IncludedLoci(patient, donor, excluded)
	included := domain.NewLocusSet(loci...)
	excludedAll := make(domain.LocusSet)
	for _, locus := range domain.MatchPredictionLoci {
		if !included.Contains(locus) {
			excludedAll[locus] = struct{}{}
		}
	}

	patientSorted, donorSorted := patient.Sorted(), donor.Sorted()
	details := make([]domain.GenotypeMatchDetails, 0, len(patientSorted)*len(donorSorted))
	for _, p := range patientSorted {
		for _, d := range donorSorted {
			details = append(details, domain.GenotypeMatchDetails{
				PatientGenotype:   p.Genotype,
				PatientLikelihood: p.Likelihood,
				DonorGenotype:     d.Genotype,
				DonorLikelihood:   d.Likelihood,
				MatchCounts:       c.matcher.CalculateMatchCounts(p.Genotype, d.Genotype, excludedAll),
			})
		}
	}
	return details
}
