package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/hla-match-prediction/internal/domain"
)

const defaultDictionaryCacheSize = 10000

// RequestContext memoizes dictionary lookups, frequency set selection and
// subject likelihoods for the lifetime of a single request. Nothing in it
// outlives the request, so there is no cross-request state to invalidate.
type RequestContext struct {
	dictionary domain.HlaMetadataDictionary
	repository domain.HaplotypeFrequencyRepository
	logger     *logrus.Logger

	// Least recently used typings are evicted once the cache is full
	resolved     *lru.Cache[string, []string]
	resolveGroup singleflight.Group

	mu          sync.Mutex
	selections  map[domain.FrequencySetSelector]*domain.HaplotypeFrequencySet
	lookups     map[int64]*FrequencyLookup
	likelihoods map[string]*domain.GenotypeLikelihoods
	loadGroup   singleflight.Group
	subjectGrp  singleflight.Group

	stats RequestCacheStats
}

// RequestCacheStats counts cache effectiveness for one request
type RequestCacheStats struct {
	DictionaryHits   int64 `json:"dictionary_hits"`
	DictionaryMisses int64 `json:"dictionary_misses"`
	SubjectHits      int64 `json:"subject_hits"`
	TablesLoaded     int64 `json:"tables_loaded"`
}

// NewRequestContext creates a request scoped cache in front of the collaborators
func NewRequestContext(
	dictionary domain.HlaMetadataDictionary,
	repository domain.HaplotypeFrequencyRepository,
	dictionaryCacheSize int,
	logger *logrus.Logger,
) (*RequestContext, error) {
	if dictionaryCacheSize <= 0 {
		dictionaryCacheSize = defaultDictionaryCacheSize
	}
	resolved, err := lru.New[string, []string](dictionaryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dictionary cache: %w", err)
	}
	return &RequestContext{
		dictionary:  dictionary,
		repository:  repository,
		logger:      logger,
		resolved:    resolved,
		selections:  make(map[domain.FrequencySetSelector]*domain.HaplotypeFrequencySet),
		lookups:     make(map[int64]*FrequencyLookup),
		likelihoods: make(map[string]*domain.GenotypeLikelihoods),
	}, nil
}

// Resolve implements domain.HlaMetadataDictionary with memoization.
// Failed resolutions are not cached.
func (rc *RequestContext) Resolve(ctx context.Context, locus domain.Locus, typing string, nomenclatureVersion string) ([]string, error) {
	key := locus.String() + "|" + nomenclatureVersion + "|" + typing
	if values, ok := rc.resolved.Get(key); ok {
		atomic.AddInt64(&rc.stats.DictionaryHits, 1)
		return values, nil
	}
	atomic.AddInt64(&rc.stats.DictionaryMisses, 1)

	v, err, _ := rc.resolveGroup.Do(key, func() (interface{}, error) {
		if values, ok := rc.resolved.Peek(key); ok {
			return values, nil
		}
		values, err := rc.dictionary.Resolve(ctx, locus, typing, nomenclatureVersion)
		if err != nil {
			return nil, err
		}
		rc.resolved.Add(key, values)
		return values, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// FrequencyLookup selects the active set for the population and returns its
// frequency lookup. Selection and table load happen once per request.
func (rc *RequestContext) FrequencyLookup(ctx context.Context, selector domain.FrequencySetSelector) (*FrequencyLookup, error) {
	set, err := rc.selectSet(ctx, selector)
	if err != nil {
		return nil, err
	}

	rc.mu.Lock()
	lookup, ok := rc.lookups[set.ID]
	rc.mu.Unlock()
	if ok {
		return lookup, nil
	}

	v, err, _ := rc.loadGroup.Do(fmt.Sprintf("table:%d", set.ID), func() (interface{}, error) {
		rc.mu.Lock()
		lookup, ok := rc.lookups[set.ID]
		rc.mu.Unlock()
		if ok {
			return lookup, nil
		}

		table, err := rc.repository.LoadFrequencies(ctx, set.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load haplotype frequencies for set %d: %w", set.ID, err)
		}
		lookup = NewFrequencyLookup(table)
		rc.mu.Lock()
		rc.lookups[set.ID] = lookup
		rc.mu.Unlock()
		atomic.AddInt64(&rc.stats.TablesLoaded, 1)

		rc.logger.WithFields(logrus.Fields{
			"frequency_set_id": set.ID,
			"haplotypes":       table.Len(),
			"registry_code":    set.RegistryCode,
			"ethnicity_code":   set.EthnicityCode,
		}).Debug("Loaded haplotype frequency table")
		return lookup, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*FrequencyLookup), nil
}

func (rc *RequestContext) selectSet(ctx context.Context, selector domain.FrequencySetSelector) (*domain.HaplotypeFrequencySet, error) {
	rc.mu.Lock()
	set, ok := rc.selections[selector]
	rc.mu.Unlock()
	if ok {
		return set, nil
	}

	key := "select:" + selector.RegistryCode + "|" + selector.EthnicityCode
	v, err, _ := rc.loadGroup.Do(key, func() (interface{}, error) {
		rc.mu.Lock()
		set, ok := rc.selections[selector]
		rc.mu.Unlock()
		if ok {
			return set, nil
		}

		set, err := rc.repository.SelectActiveSet(ctx, selector.RegistryCode, selector.EthnicityCode)
		if err != nil {
			return nil, err
		}
		rc.mu.Lock()
		rc.selections[selector] = set
		rc.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.HaplotypeFrequencySet), nil
}

// memoizeSubject computes a subject's likelihoods once per distinct key.
// Concurrent callers with the same key share one computation.
func (rc *RequestContext) memoizeSubject(key string, compute func() (*domain.GenotypeLikelihoods, error)) (*domain.GenotypeLikelihoods, error) {
	rc.mu.Lock()
	cached, ok := rc.likelihoods[key]
	rc.mu.Unlock()
	if ok {
		atomic.AddInt64(&rc.stats.SubjectHits, 1)
		return cached, nil
	}

	v, err, shared := rc.subjectGrp.Do(key, func() (interface{}, error) {
		rc.mu.Lock()
		cached, ok := rc.likelihoods[key]
		rc.mu.Unlock()
		if ok {
			return cached, nil
		}

		result, err := compute()
		if err != nil {
			return nil, err
		}
		rc.mu.Lock()
		rc.likelihoods[key] = result
		rc.mu.Unlock()
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		atomic.AddInt64(&rc.stats.SubjectHits, 1)
	}
	return v.(*domain.GenotypeLikelihoods), nil
}

// Stats returns a snapshot of the cache counters
func (rc *RequestContext) Stats() RequestCacheStats {
	return RequestCacheStats{
		DictionaryHits:   atomic.LoadInt64(&rc.stats.DictionaryHits),
		DictionaryMisses: atomic.LoadInt64(&rc.stats.DictionaryMisses),
		SubjectHits:      atomic.LoadInt64(&rc.stats.SubjectHits),
		TablesLoaded:     atomic.LoadInt64(&rc.stats.TablesLoaded),
	}
}

// subjectKey identifies a subject's likelihood computation within a request
func subjectKey(hla domain.PhenotypeInfo[string], selector domain.FrequencySetSelector) string {
	var b strings.Builder
	for _, locus := range domain.AllLoci {
		info := hla.At(locus)
		b.WriteString(info.Position1)
		b.WriteByte('/')
		b.WriteString(info.Position2)
		b.WriteByte('|')
	}
	b.WriteString(selector.RegistryCode)
	b.WriteByte('|')
	b.WriteString(selector.EthnicityCode)
	return b.String()
}

// FrequencyLookup answers haplotype frequency queries for genotypes typed at
// any subset of the match prediction loci. Marginal tables for partially
// typed haplotypes are built lazily, once per locus mask, and are read-only
// afterwards.
type FrequencyLookup struct {
	table     *domain.HaplotypeFrequencyTable
	marginals [64]marginalTable
}

type marginalTable struct {
	once        sync.Once
	frequencies map[domain.Haplotype]float64
}

// NewFrequencyLookup wraps an immutable table
func NewFrequencyLookup(table *domain.HaplotypeFrequencyTable) *FrequencyLookup {
	return &FrequencyLookup{table: table}
}

// Set returns the metadata of the underlying frequency set
func (l *FrequencyLookup) Set() domain.HaplotypeFrequencySet {
	return l.table.Set
}

// Frequency returns the frequency of a haplotype whose loci outside mask are
// empty. Haplotypes missing from the table have frequency 0.
func (l *FrequencyLookup) Frequency(h domain.Haplotype, mask domain.LocusMask) float64 {
	if mask == domain.FullLocusMask {
		return l.table.Frequency(h)
	}
	m := &l.marginals[mask&63]
	m.once.Do(func() {
		m.frequencies = l.buildMarginal(mask)
	})
	return m.frequencies[h]
}

func (l *FrequencyLookup) buildMarginal(mask domain.LocusMask) map[domain.Haplotype]float64 {
	sums := make(map[domain.Haplotype]Weight)
	l.table.Range(func(h domain.Haplotype, f float64) bool {
		key := h.Mask(mask)
		sums[key] = sums[key].AddFloat(f)
		return true
	})
	out := make(map[domain.Haplotype]float64, len(sums))
	for h, w := range sums {
		out[h] = w.Float64()
	}
	return out
}
