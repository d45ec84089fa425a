package service

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"github.com/hla-match-prediction/internal/domain"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress logs during testing
	return logger
}

// MockDictionary is a mock implementation of domain.HlaMetadataDictionary
type MockDictionary struct {
	mock.Mock
}

func (m *MockDictionary) Resolve(ctx context.Context, locus domain.Locus, typing string, version string) ([]string, error) {
	args := m.Called(ctx, locus, typing, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// fakeDictionary resolves a typing to itself unless it is listed as
// ambiguous, invalid or slow
type fakeDictionary struct {
	ambiguous map[string][]string
	invalid   map[string]bool
	slow      map[string]bool
	calls     int64
}

func newFakeDictionary() *fakeDictionary {
	return &fakeDictionary{
		ambiguous: make(map[string][]string),
		invalid:   make(map[string]bool),
		slow:      make(map[string]bool),
	}
}

func (d *fakeDictionary) Resolve(ctx context.Context, locus domain.Locus, typing string, _ string) ([]string, error) {
	atomic.AddInt64(&d.calls, 1)
	key := locus.String() + "*" + typing
	if d.slow[key] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.invalid[key] {
		return nil, &domain.InvalidHlaError{Locus: locus, Typing: typing, Reason: "unknown allele"}
	}
	if values, ok := d.ambiguous[key]; ok {
		return values, nil
	}
	return []string{typing}, nil
}

func (d *fakeDictionary) Calls() int64 {
	return atomic.LoadInt64(&d.calls)
}

// memoryRepository serves frequency sets from memory with the standard
// registry+ethnicity, registry, global fallback
type memoryRepository struct {
	sets        []domain.HaplotypeFrequencySet
	tables      map[int64]map[domain.Haplotype]float64
	selectCalls int64
	loadCalls   int64
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{tables: make(map[int64]map[domain.Haplotype]float64)}
}

func (r *memoryRepository) addSet(registry, ethnicity string, frequencies map[domain.Haplotype]float64) int64 {
	id := int64(len(r.sets) + 1)
	r.sets = append(r.sets, domain.HaplotypeFrequencySet{
		ID:                     id,
		Name:                   "test set",
		RegistryCode:           registry,
		EthnicityCode:          ethnicity,
		HlaNomenclatureVersion: "3.33.0",
		Active:                 true,
	})
	r.tables[id] = frequencies
	return id
}

func (r *memoryRepository) SelectActiveSet(_ context.Context, registry, ethnicity string) (*domain.HaplotypeFrequencySet, error) {
	atomic.AddInt64(&r.selectCalls, 1)
	candidates := []domain.FrequencySetSelector{
		{RegistryCode: registry, EthnicityCode: ethnicity},
		{RegistryCode: registry},
		{},
	}
	for _, candidate := range candidates {
		for i := range r.sets {
			set := r.sets[i]
			if set.Active && set.RegistryCode == candidate.RegistryCode && set.EthnicityCode == candidate.EthnicityCode {
				return &set, nil
			}
		}
	}
	return nil, &domain.FrequencySetNotFoundError{RegistryCode: registry, EthnicityCode: ethnicity}
}

func (r *memoryRepository) LoadFrequencies(_ context.Context, setID int64) (*domain.HaplotypeFrequencyTable, error) {
	atomic.AddInt64(&r.loadCalls, 1)
	frequencies, ok := r.tables[setID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := make(map[domain.Haplotype]float64, len(frequencies))
	for h, f := range frequencies {
		copied[h] = f
	}
	return domain.NewHaplotypeFrequencyTable(r.sets[setID-1], copied), nil
}

// staticFrequencies is a FrequencySource that ignores the mask
type staticFrequencies map[domain.Haplotype]float64

func (s staticFrequencies) Frequency(h domain.Haplotype, _ domain.LocusMask) float64 {
	return s[h]
}

// countingFrequencies counts lookups
type countingFrequencies struct {
	staticFrequencies
	lookups int
}

func (c *countingFrequencies) Frequency(h domain.Haplotype, mask domain.LocusMask) float64 {
	c.lookups++
	return c.staticFrequencies.Frequency(h, mask)
}

func hap(a, b, c, dqb1, drb1 string) domain.Haplotype {
	return domain.Haplotype{A: a, B: b, C: c, Dqb1: dqb1, Drb1: drb1}
}

// phenotype builds a typing from (position1, position2) pairs for A, B, C, DQB1, DRB1
func phenotype(a1, a2, b1, b2, c1, c2, dqb11, dqb12, drb11, drb12 string) domain.PhenotypeInfo[string] {
	return domain.PhenotypeInfo[string]{
		A:    domain.NewLocusInfo(a1, a2),
		B:    domain.NewLocusInfo(b1, b2),
		C:    domain.NewLocusInfo(c1, c2),
		Dqb1: domain.NewLocusInfo(dqb11, dqb12),
		Drb1: domain.NewLocusInfo(drb11, drb12),
	}
}

// genotypeOf treats every typed model locus of p as a resolved value
func genotypeOf(p domain.PhenotypeInfo[string]) domain.UnambiguousGenotype {
	var g domain.UnambiguousGenotype
	for _, locus := range domain.MatchPredictionLoci {
		if domain.IsLocusTyped(p, locus) {
			g.Set(locus, domain.Present(p.At(locus)))
		}
	}
	return g
}

// referencePhenotype is a fully heterozygous typing used across tests
func referencePhenotype() domain.PhenotypeInfo[string] {
	return phenotype(
		"02:09", "02:66",
		"08:182", "15:146",
		"01:03", "03:05",
		"03:09", "02:04",
		"03:124", "11:129",
	)
}

// referenceFrequencies supports referencePhenotype through its two
// position-ordered haplotypes
func referenceFrequencies() map[domain.Haplotype]float64 {
	return map[domain.Haplotype]float64{
		hap("02:09", "08:182", "01:03", "03:09", "03:124"): 0.01,
		hap("02:66", "15:146", "03:05", "02:04", "11:129"): 0.02,
	}
}

func distribution(entries map[domain.UnambiguousGenotype]float64) *domain.GenotypeLikelihoods {
	return &domain.GenotypeLikelihoods{Likelihoods: entries, RawTotal: 1}
}
