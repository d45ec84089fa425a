package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hla-match-prediction/internal/domain"
	"github.com/hla-match-prediction/internal/metrics"
)

// PatientLabel names the patient in errors and logs
const PatientLabel = "patient"

// MaxMatchDetailPairs bounds the genotype pairings listed per donor when
// match details are requested
const MaxMatchDetailPairs = 1000

// MatchProbabilityService runs a patient against a batch of donors
type MatchProbabilityService struct {
	dictionary  domain.HlaMetadataDictionary
	repository  domain.HaplotypeFrequencyRepository
	likelihoods *GenotypeLikelihoodService
	calculator  *MatchProbabilityCalculator
	config      domain.MatchPredictionConfig
	metrics     *metrics.Metrics
	logger      *logrus.Logger
}

// NewMatchProbabilityService wires the engine from its collaborators
func NewMatchProbabilityService(
	dictionary domain.HlaMetadataDictionary,
	repository domain.HaplotypeFrequencyRepository,
	config domain.MatchPredictionConfig,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *MatchProbabilityService {
	if config.DonorWorkers <= 0 {
		config.DonorWorkers = runtime.GOMAXPROCS(0)
	}
	if config.UntypedLocusPolicy == "" {
		config.UntypedLocusPolicy = domain.UntypedLocusAutoExclude
	}
	return &MatchProbabilityService{
		dictionary:  dictionary,
		repository:  repository,
		likelihoods: NewGenotypeLikelihoodService(NewCompressedPhenotypeExpander(config.MaxGenotypeCount), config.LikelihoodWorkers, m, logger),
		calculator:  NewMatchProbabilityCalculator(config.ReductionWorkers),
		config:      config,
		metrics:     m,
		logger:      logger,
	}
}

// CalculateMatchProbabilities computes the patient's distribution once and
// then every donor independently. Donor failures are reported per donor;
// only patient-side resolution, frequency set and validation failures fail
// the request.
func (s *MatchProbabilityService) CalculateMatchProbabilities(
	ctx context.Context,
	req *domain.MatchProbabilityRequest,
) (*domain.MatchProbabilityResponse, error) {
	start := time.Now()
	if req == nil {
		return nil, domain.NewValidationError("request", "request is required", nil)
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if len(req.Donors) == 0 {
		return nil, domain.NewValidationError("donors", "at least one donor is required", nil)
	}
	if err := validateDonorIDs(req.Donors); err != nil {
		return nil, err
	}

	excluded, err := s.excludedLoci(req.ExcludedLoci)
	if err != nil {
		return nil, err
	}
	if err := s.validateSubject("patient_hla", req.PatientHla, excluded); err != nil {
		return nil, err
	}
	version := s.nomenclatureVersion(req.NomenclatureVersion)

	log := s.logger.WithFields(logrus.Fields{
		"request_id":           req.RequestID,
		"donor_count":          len(req.Donors),
		"excluded_loci":        excluded.Slice(),
		"nomenclature_version": version,
	})
	log.Info("Processing match probability request")

	rc, err := NewRequestContext(s.dictionary, s.repository, s.config.DictionaryCacheSize, s.logger)
	if err != nil {
		return nil, err
	}

	response := &domain.MatchProbabilityResponse{
		RequestID: req.RequestID,
		Donors:    make([]domain.DonorMatchPrediction, len(req.Donors)),
	}

	patientInput := domain.SubjectInput{Label: PatientLabel, Hla: req.PatientHla, FrequencySet: req.PatientFrequencySet}
	patient, err := s.likelihoods.CalculateLikelihoods(ctx, rc, patientInput, excluded, version)

	// Patient-side outcomes that apply to every donor
	var overflowErr *domain.CombinatorialOverflowError
	switch {
	case errors.As(err, &overflowErr):
		log.WithError(err).Warn("Patient typing too ambiguous, no donor can be evaluated")
		s.fillDonors(response, req.Donors, domain.DonorStatusTooAmbiguous, err.Error())
		return s.finish(response, start, log), nil
	case err != nil:
		return nil, err
	case patient.ZeroMass:
		log.Warn("Patient typing has no support in the frequency set")
		s.fillDonors(response, req.Donors, domain.DonorStatusPredictionImpossible, domain.ErrPredictionImpossible.Error())
		response.PatientFrequencySetID = patient.FrequencySetID
		return s.finish(response, start, log), nil
	}
	response.PatientGenotypeCount = len(patient.Likelihoods)
	response.PatientFrequencySetID = patient.FrequencySetID

	batchCtx := ctx
	if s.config.BatchTimeout > 0 {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithTimeout(ctx, s.config.BatchTimeout)
		defer cancel()
	}

	// Identical donor phenotypes share one reduction
	var donorGroup singleflight.Group
	var g errgroup.Group
	g.SetLimit(s.config.DonorWorkers)
	for i, donor := range req.Donors {
		g.Go(func() error {
			if batchCtx.Err() != nil {
				response.Donors[i] = donorOutcome(donor.ID, batchCtx.Err(), nil)
				return nil
			}
			var evaluation *donorEvaluation
			// Validation runs per donor so each error names its own donor
			err := s.validateSubject("donors["+donor.ID+"].hla", donor.Hla, excluded)
			if err == nil {
				key := subjectKey(donor.Hla, donor.FrequencySet)
				var v interface{}
				v, err, _ = donorGroup.Do(key, func() (interface{}, error) {
					return s.evaluateDonor(batchCtx, rc, patient, donor, excluded, version, req.IncludeMatchDetails)
				})
				if v != nil {
					evaluation = v.(*donorEvaluation)
				}
				err = relabelSubject(err, "donor "+donor.ID)
			}
			prediction := donorOutcome(donor.ID, err, evaluation)
			response.Donors[i] = prediction

			if prediction.Status != domain.DonorStatusSuccess {
				log.WithFields(logrus.Fields{
					"donor_id": donor.ID,
					"status":   prediction.Status,
				}).WithError(err).Warn("Donor prediction did not succeed")
			}
			return nil
		})
	}
	_ = g.Wait()

	return s.finish(response, start, log), nil
}

// CalculateGenotypeLikelihoods returns one subject's normalized distribution
func (s *MatchProbabilityService) CalculateGenotypeLikelihoods(
	ctx context.Context,
	subject domain.SubjectInput,
	excludedLoci []domain.Locus,
	nomenclatureVersion string,
) (*domain.GenotypeLikelihoods, error) {
	excluded, err := s.excludedLoci(excludedLoci)
	if err != nil {
		return nil, err
	}
	if subject.Label == "" {
		subject.Label = "subject"
	}
	if err := s.validateSubject("hla", subject.Hla, excluded); err != nil {
		return nil, err
	}
	rc, err := NewRequestContext(s.dictionary, s.repository, s.config.DictionaryCacheSize, s.logger)
	if err != nil {
		return nil, err
	}
	return s.likelihoods.CalculateLikelihoods(ctx, rc, subject, excluded, s.nomenclatureVersion(nomenclatureVersion))
}

// donorEvaluation is the shared outcome of one distinct donor phenotype
type donorEvaluation struct {
	result         *domain.MatchProbabilityResult
	frequencySetID int64
	details        []domain.GenotypeMatchDetails
	detailsOmitted bool
}

func (s *MatchProbabilityService) evaluateDonor(
	ctx context.Context,
	rc *RequestContext,
	patient *domain.GenotypeLikelihoods,
	donor domain.DonorInput,
	excluded domain.LocusSet,
	version string,
	includeDetails bool,
) (*donorEvaluation, error) {
	input := domain.SubjectInput{Label: "donor " + donor.ID, Hla: donor.Hla, FrequencySet: donor.FrequencySet}
	key := subjectKey(donor.Hla, donor.FrequencySet)
	distribution, err := rc.memoizeSubject(key, func() (*domain.GenotypeLikelihoods, error) {
		return s.likelihoods.CalculateLikelihoods(ctx, rc, input, excluded, version)
	})
	if err != nil {
		return nil, err
	}
	evaluation := &donorEvaluation{frequencySetID: distribution.FrequencySetID}

	start := time.Now()
	result, err := s.calculator.CalculateMatchProbability(ctx, patient, distribution, excluded)
	s.metrics.ObserveReductionLatency(time.Since(start))
	if err != nil {
		return evaluation, err
	}
	evaluation.result = result

	if includeDetails {
		if len(patient.Likelihoods)*len(distribution.Likelihoods) <= MaxMatchDetailPairs {
			evaluation.details = s.calculator.CalculateMatchDetails(patient, distribution, excluded)
		} else {
			evaluation.detailsOmitted = true
		}
	}
	return evaluation, nil
}

// relabelSubject rewrites the subject of an error produced by an evaluation
// shared between identical donors
func relabelSubject(err error, label string) error {
	var resolutionErr *domain.HlaResolutionError
	if errors.As(err, &resolutionErr) && resolutionErr.Subject != label {
		relabeled := *resolutionErr
		relabeled.Subject = label
		return &relabeled
	}
	var overflowErr *domain.CombinatorialOverflowError
	if errors.As(err, &overflowErr) && overflowErr.Subject != label {
		relabeled := *overflowErr
		relabeled.Subject = label
		return &relabeled
	}
	return err
}

// donorOutcome maps an evaluation error to the donor's status
func donorOutcome(donorID string, err error, evaluation *donorEvaluation) domain.DonorMatchPrediction {
	prediction := domain.DonorMatchPrediction{DonorID: donorID, Status: DonorStatus(err)}
	if evaluation != nil {
		prediction.FrequencySetID = evaluation.frequencySetID
		if err == nil {
			prediction.Result = evaluation.result
			prediction.MatchDetails = evaluation.details
			prediction.MatchDetailsOmitted = evaluation.detailsOmitted
		}
	}
	if err != nil {
		prediction.Error = err.Error()
	}
	return prediction
}

// DonorStatus classifies a donor evaluation error
func DonorStatus(err error) domain.DonorPredictionStatus {
	var (
		resolutionErr *domain.HlaResolutionError
		overflowErr   *domain.CombinatorialOverflowError
		setErr        *domain.FrequencySetNotFoundError
		validationErr *domain.ValidationError
	)
	switch {
	case err == nil:
		return domain.DonorStatusSuccess
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return domain.DonorStatusCancelled
	case errors.Is(err, domain.ErrPredictionImpossible):
		return domain.DonorStatusPredictionImpossible
	case errors.As(err, &resolutionErr):
		return domain.DonorStatusResolutionFailed
	case errors.As(err, &overflowErr):
		return domain.DonorStatusTooAmbiguous
	case errors.As(err, &setErr):
		return domain.DonorStatusFrequencySetUnavailable
	case errors.As(err, &validationErr):
		return domain.DonorStatusInvalidInput
	default:
		return domain.DonorStatusFailed
	}
}

func (s *MatchProbabilityService) fillDonors(
	response *domain.MatchProbabilityResponse,
	donors []domain.DonorInput,
	status domain.DonorPredictionStatus,
	message string,
) {
	for i, donor := range donors {
		response.Donors[i] = domain.DonorMatchPrediction{DonorID: donor.ID, Status: status, Error: message}
	}
}

func (s *MatchProbabilityService) finish(
	response *domain.MatchProbabilityResponse,
	start time.Time,
	log *logrus.Entry,
) *domain.MatchProbabilityResponse {
	elapsed := time.Since(start)
	response.ProcessingTime = elapsed.String()
	response.ProcessedAt = time.Now().UTC()

	statusCounts := make(map[domain.DonorPredictionStatus]int)
	for _, donor := range response.Donors {
		statusCounts[donor.Status]++
		s.metrics.IncrementDonorOutcome(string(donor.Status))
	}
	s.metrics.ObserveBatchLatency(elapsed)

	log.WithFields(logrus.Fields{
		"patient_genotype_count": response.PatientGenotypeCount,
		"status_counts":          statusCounts,
		"duration":               elapsed,
	}).Info("Match probability request completed")
	return response
}

// excludedLoci validates caller exclusions and always adds DPB1
func (s *MatchProbabilityService) excludedLoci(loci []domain.Locus) (domain.LocusSet, error) {
	set := domain.NewLocusSet(domain.LocusDpb1)
	for _, locus := range loci {
		if locus == domain.LocusDpb1 {
			continue
		}
		if !locus.IsMatchPredictionLocus() {
			return nil, domain.NewValidationError("excluded_loci", "unknown locus", locus)
		}
		for _, required := range domain.RequiredLoci {
			if locus == required {
				return nil, domain.NewValidationError("excluded_loci",
					fmt.Sprintf("locus %s cannot be excluded", locus), locus.String())
			}
		}
		set[locus] = struct{}{}
	}
	return set, nil
}

// validateSubject enforces the required loci and the untyped locus policy
func (s *MatchProbabilityService) validateSubject(field string, hla domain.PhenotypeInfo[string], excluded domain.LocusSet) error {
	for _, locus := range domain.RequiredLoci {
		if !domain.IsLocusTyped(hla, locus) {
			return domain.NewValidationError(field+"."+locus.String(), "locus must be typed", nil)
		}
	}
	if s.config.UntypedLocusPolicy == domain.UntypedLocusRequireExplicit {
		for _, locus := range domain.UntypedLoci(hla).Slice() {
			if !excluded.Contains(locus) {
				return domain.NewValidationError(field+"."+locus.String(),
					"untyped locus must be listed in excluded_loci", nil)
			}
		}
	}
	return nil
}

func validateDonorIDs(donors []domain.DonorInput) error {
	seen := make(map[string]struct{}, len(donors))
	for i, donor := range donors {
		if donor.ID == "" {
			return domain.NewValidationError(fmt.Sprintf("donors[%d].id", i), "donor id is required", nil)
		}
		if _, ok := seen[donor.ID]; ok {
			return domain.NewValidationError(fmt.Sprintf("donors[%d].id", i), "duplicate donor id", donor.ID)
		}
		seen[donor.ID] = struct{}{}
	}
	return nil
}

func (s *MatchProbabilityService) nomenclatureVersion(requested string) string {
	if requested != "" {
		return requested
	}
	return s.config.DefaultNomenclatureVersion
}
