package service

import (
	"context"
	"math"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hla-match-prediction/internal/domain"
	"github.com/hla-match-prediction/internal/metrics"
)

// likelihoodBatchSize is the number of candidates handed to a worker at once
const likelihoodBatchSize = 256

// GenotypeLikelihoodService turns one subject's raw typing into a
// normalized genotype likelihood distribution
type GenotypeLikelihoodService struct {
	expander   *AmbiguousPhenotypeExpander
	compressed *CompressedPhenotypeExpander
	calculator *GenotypeLikelihoodCalculator
	workers    int
	metrics    *metrics.Metrics
	logger     *logrus.Logger
}

// NewGenotypeLikelihoodService creates a likelihood service. workers <= 0
// uses GOMAXPROCS.
func NewGenotypeLikelihoodService(
	compressed *CompressedPhenotypeExpander,
	workers int,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *GenotypeLikelihoodService {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &GenotypeLikelihoodService{
		expander:   NewAmbiguousPhenotypeExpander(logger),
		compressed: compressed,
		calculator: NewGenotypeLikelihoodCalculator(),
		workers:    workers,
		metrics:    m,
		logger:     logger,
	}
}

// CalculateLikelihoods expands the subject's typing, evaluates every
// candidate genotype and normalizes by the raw total. A zero total is
// reported through ZeroMass, not as an error.
func (s *GenotypeLikelihoodService) CalculateLikelihoods(
	ctx context.Context,
	rc *RequestContext,
	subject domain.SubjectInput,
	excluded domain.LocusSet,
	nomenclatureVersion string,
) (*domain.GenotypeLikelihoods, error) {
	start := time.Now()

	lookup, err := rc.FrequencyLookup(ctx, subject.FrequencySet)
	if err != nil {
		return nil, err
	}

	expanded, err := s.expander.ExpandPhenotype(ctx, rc, subject.Label, subject.Hla, nomenclatureVersion, excluded)
	if err != nil {
		return nil, err
	}

	count, err := s.compressed.CheckBound(subject.Label, expanded)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"subject":          subject.Label,
			"candidate_count":  count,
			"max_genotype_cnt": s.compressed.MaxGenotypeCount(),
		}).Warn("Subject typing too ambiguous")
		return nil, err
	}
	s.metrics.ObserveCandidateGenotypes(count)

	partials, err := s.evaluate(ctx, expanded, lookup)
	if err != nil {
		return nil, err
	}

	result := normalize(partials)
	result.CandidateCount = count
	result.FrequencySetID = lookup.Set().ID
	result.ExcludedLoci = excluded
	result.NomenclatureVersion = nomenclatureVersion

	role := "donor"
	if subject.Label == PatientLabel {
		role = "patient"
	}
	s.metrics.ObserveLikelihoodLatency(role, time.Since(start))

	s.logger.WithFields(logrus.Fields{
		"subject":          subject.Label,
		"candidate_count":  count,
		"supported_count":  len(result.Likelihoods),
		"zero_mass":        result.ZeroMass,
		"frequency_set_id": result.FrequencySetID,
		"duration":         time.Since(start),
	}).Debug("Calculated genotype likelihoods")

	return result, nil
}

// likelihoodPartial is one worker's share of the distribution
type likelihoodPartial struct {
	raw map[domain.UnambiguousGenotype]float64
}

// evaluate streams candidates from the expander to a bounded pool of
// workers. Each worker owns its partial result, so the hot path takes no
// locks.
func (s *GenotypeLikelihoodService) evaluate(
	ctx context.Context,
	expanded ExpandedPhenotype,
	lookup FrequencySource,
) ([]*likelihoodPartial, error) {
	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan []domain.UnambiguousGenotype, s.workers)

	g.Go(func() error {
		defer close(batches)
		batch := make([]domain.UnambiguousGenotype, 0, likelihoodBatchSize)
		err := s.compressed.ForEachGenotype(gctx, expanded, func(genotype domain.UnambiguousGenotype) error {
			batch = append(batch, genotype)
			if len(batch) < likelihoodBatchSize {
				return nil
			}
			select {
			case batches <- batch:
			case <-gctx.Done():
				return gctx.Err()
			}
			batch = make([]domain.UnambiguousGenotype, 0, likelihoodBatchSize)
			return nil
		})
		if err != nil {
			return err
		}
		if len(batch) > 0 {
			select {
			case batches <- batch:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	partials := make([]*likelihoodPartial, s.workers)
	for i := range partials {
		partial := &likelihoodPartial{raw: make(map[domain.UnambiguousGenotype]float64)}
		partials[i] = partial
		g.Go(func() error {
			for batch := range batches {
				for _, genotype := range batch {
					l := s.calculator.CalculateLikelihood(genotype, lookup)
					if l <= 0 {
						continue
					}
					partial.raw[genotype] += l
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return partials, nil
}

// normalize merges worker partials and divides by the raw total. Raw values
// are rescaled by the largest binary exponent before the fixed-point sum, so
// subjects with very rare support keep full resolution and the total does
// not depend on worker scheduling.
func normalize(partials []*likelihoodPartial) *domain.GenotypeLikelihoods {
	size := 0
	maxExp := math.MinInt
	for _, p := range partials {
		size += len(p.raw)
		for _, l := range p.raw {
			if _, exp := math.Frexp(l); exp > maxExp {
				maxExp = exp
			}
		}
	}

	result := &domain.GenotypeLikelihoods{
		Likelihoods: make(map[domain.UnambiguousGenotype]float64, size),
	}
	// Only positive likelihoods are kept, so an empty merge is zero mass
	if size == 0 {
		result.ZeroMass = true
		return result
	}

	var scaled Weight
	for _, p := range partials {
		for _, l := range p.raw {
			scaled = scaled.AddFloat(math.Ldexp(l, -maxExp))
		}
	}
	denominator := scaled.Float64()
	result.RawTotal = math.Ldexp(denominator, maxExp)
	for _, p := range partials {
		for genotype, l := range p.raw {
			result.Likelihoods[genotype] += math.Ldexp(l, -maxExp) / denominator
		}
	}
	return result
}
