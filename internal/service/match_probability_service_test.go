package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hla-match-prediction/internal/domain"
)

func testMatchConfig() domain.MatchPredictionConfig {
	return domain.MatchPredictionConfig{
		LikelihoodWorkers:          2,
		ReductionWorkers:           2,
		DonorWorkers:               2,
		DictionaryCacheSize:        100,
		DefaultNomenclatureVersion: "3.33.0",
	}
}

func newTestMatchService(dictionary domain.HlaMetadataDictionary, repository domain.HaplotypeFrequencyRepository, config domain.MatchPredictionConfig) *MatchProbabilityService {
	return NewMatchProbabilityService(dictionary, repository, config, nil, newTestLogger())
}

func referenceRepository() *memoryRepository {
	repository := newMemoryRepository()
	repository.addSet("", "", referenceFrequencies())
	return repository
}

func donorsByID(response *domain.MatchProbabilityResponse) map[string]domain.DonorMatchPrediction {
	out := make(map[string]domain.DonorMatchPrediction, len(response.Donors))
	for _, d := range response.Donors {
		out[d.DonorID] = d
	}
	return out
}

func TestMatchProbabilityService_CalculateMatchProbabilities(t *testing.T) {
	ctx := context.Background()

	t.Run("Identical_Donor", func(t *testing.T) {
		service := newTestMatchService(newFakeDictionary(), referenceRepository(), testMatchConfig())

		response, err := service.CalculateMatchProbabilities(ctx, &domain.MatchProbabilityRequest{
			PatientHla: referencePhenotype(),
			Donors:     []domain.DonorInput{{ID: "D1", Hla: referencePhenotype()}},
		})
		require.NoError(t, err)

		assert.NotEmpty(t, response.RequestID)
		assert.Equal(t, 1, response.PatientGenotypeCount)
		assert.Equal(t, int64(1), response.PatientFrequencySetID)
		require.Len(t, response.Donors, 1)

		donor := response.Donors[0]
		assert.Equal(t, domain.DonorStatusSuccess, donor.Status)
		require.NotNil(t, donor.Result)
		assert.Equal(t, 1.0, donor.Result.ZeroMismatch)
		for _, locus := range domain.MatchPredictionLoci {
			p, ok := donor.Result.Loci.At(locus).Get()
			require.True(t, ok)
			assert.Equal(t, 1.0, p.TwoMatches)
		}
	})

	t.Run("Donor_Failures_Are_Isolated", func(t *testing.T) {
		dictionary := newFakeDictionary()
		dictionary.invalid["DRB1*99:99"] = true
		dictionary.ambiguous["A*02:XX"] = []string{"02:09", "02:66"}

		repository := newMemoryRepository()
		repository.addSet("DKMS", "", referenceFrequencies())

		config := testMatchConfig()
		config.MaxGenotypeCount = 2
		service := newTestMatchService(dictionary, repository, config)

		response, err := service.CalculateMatchProbabilities(ctx, &domain.MatchProbabilityRequest{
			PatientHla:          referencePhenotype(),
			PatientFrequencySet: domain.FrequencySetSelector{RegistryCode: "DKMS"},
			Donors: []domain.DonorInput{
				{ID: "ok", Hla: referencePhenotype(), FrequencySet: domain.FrequencySetSelector{RegistryCode: "DKMS"}},
				{
					ID:           "invalid",
					Hla:          referencePhenotype().With(domain.LocusDrb1, domain.NewLocusInfo("99:99", "11:129")),
					FrequencySet: domain.FrequencySetSelector{RegistryCode: "DKMS"},
				},
				{
					ID: "ambiguous",
					Hla: referencePhenotype().
						With(domain.LocusA, domain.NewLocusInfo("02:XX", "02:XX")),
					FrequencySet: domain.FrequencySetSelector{RegistryCode: "DKMS"},
				},
				{ID: "no-set", Hla: referencePhenotype(), FrequencySet: domain.FrequencySetSelector{RegistryCode: "NMDP"}},
				{
					ID:           "unsupported",
					Hla:          referencePhenotype().With(domain.LocusA, domain.NewLocusInfo("01:01", "01:01")),
					FrequencySet: domain.FrequencySetSelector{RegistryCode: "DKMS"},
				},
				{
					ID:           "untyped-b",
					Hla:          referencePhenotype().With(domain.LocusB, domain.NewLocusInfo("", "")),
					FrequencySet: domain.FrequencySetSelector{RegistryCode: "DKMS"},
				},
			},
		})
		require.NoError(t, err)

		donors := donorsByID(response)
		assert.Equal(t, domain.DonorStatusSuccess, donors["ok"].Status)
		assert.NotNil(t, donors["ok"].Result)
		assert.Equal(t, domain.DonorStatusResolutionFailed, donors["invalid"].Status)
		assert.Contains(t, donors["invalid"].Error, "99:99")
		assert.Equal(t, domain.DonorStatusTooAmbiguous, donors["ambiguous"].Status)
		assert.Equal(t, domain.DonorStatusFrequencySetUnavailable, donors["no-set"].Status)
		assert.Equal(t, domain.DonorStatusPredictionImpossible, donors["unsupported"].Status)
		assert.Nil(t, donors["unsupported"].Result)
		assert.Equal(t, int64(1), donors["unsupported"].FrequencySetID)
		assert.Equal(t, domain.DonorStatusInvalidInput, donors["untyped-b"].Status)

		// Response order follows request order
		assert.Equal(t, "ok", response.Donors[0].DonorID)
		assert.Equal(t, "untyped-b", response.Donors[5].DonorID)
	})

	t.Run("Patient_Zero_Mass_Makes_Every_Donor_Impossible", func(t *testing.T) {
		service := newTestMatchService(newFakeDictionary(), referenceRepository(), testMatchConfig())
		patient := referencePhenotype().With(domain.LocusA, domain.NewLocusInfo("01:01", "01:01"))

		response, err := service.CalculateMatchProbabilities(ctx, &domain.MatchProbabilityRequest{
			PatientHla: patient,
			Donors: []domain.DonorInput{
				{ID: "D1", Hla: referencePhenotype()},
				{ID: "D2", Hla: referencePhenotype()},
			},
		})
		require.NoError(t, err)
		for _, donor := range response.Donors {
			assert.Equal(t, domain.DonorStatusPredictionImpossible, donor.Status)
			assert.Nil(t, donor.Result)
		}
	})

	t.Run("Patient_Too_Ambiguous_Applies_To_Every_Donor", func(t *testing.T) {
		dictionary := newFakeDictionary()
		dictionary.ambiguous["A*02:XX"] = []string{"02:09", "02:66"}
		config := testMatchConfig()
		config.MaxGenotypeCount = 1
		service := newTestMatchService(dictionary, referenceRepository(), config)

		response, err := service.CalculateMatchProbabilities(ctx, &domain.MatchProbabilityRequest{
			PatientHla: referencePhenotype().With(domain.LocusA, domain.NewLocusInfo("02:XX", "02:XX")),
			Donors:     []domain.DonorInput{{ID: "D1", Hla: referencePhenotype()}},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.DonorStatusTooAmbiguous, response.Donors[0].Status)
	})

	t.Run("Patient_Resolution_Failure_Fails_Request", func(t *testing.T) {
		dictionary := newFakeDictionary()
		dictionary.invalid["A*99:99"] = true
		service := newTestMatchService(dictionary, referenceRepository(), testMatchConfig())

		_, err := service.CalculateMatchProbabilities(ctx, &domain.MatchProbabilityRequest{
			PatientHla: referencePhenotype().With(domain.LocusA, domain.NewLocusInfo("99:99", "02:66")),
			Donors:     []domain.DonorInput{{ID: "D1", Hla: referencePhenotype()}},
		})
		var resolutionErr *domain.HlaResolutionError
		require.True(t, errors.As(err, &resolutionErr))
		assert.Equal(t, PatientLabel, resolutionErr.Subject)
	})

	t.Run("Patient_Frequency_Set_Missing_Fails_Request", func(t *testing.T) {
		repository := newMemoryRepository()
		repository.addSet("DKMS", "", referenceFrequencies())
		service := newTestMatchService(newFakeDictionary(), repository, testMatchConfig())

		_, err := service.CalculateMatchProbabilities(ctx, &domain.MatchProbabilityRequest{
			PatientHla:          referencePhenotype(),
			PatientFrequencySet: domain.FrequencySetSelector{RegistryCode: "NMDP"},
			Donors:              []domain.DonorInput{{ID: "D1", Hla: referencePhenotype()}},
		})
		assert.Equal(t, domain.ErrCodeFrequencySetNotFound, domain.ErrorCode(err))
	})

	t.Run("Lookups_Are_Memoized_Across_Donors", func(t *testing.T) {
		dictionary := newFakeDictionary()
		repository := referenceRepository()
		service := newTestMatchService(dictionary, repository, testMatchConfig())

		response, err := service.CalculateMatchProbabilities(ctx, &domain.MatchProbabilityRequest{
			PatientHla: referencePhenotype(),
			Donors: []domain.DonorInput{
				{ID: "D1", Hla: referencePhenotype()},
				{ID: "D2", Hla: referencePhenotype()},
				{ID: "D3", Hla: referencePhenotype()},
			},
		})
		require.NoError(t, err)
		for _, donor := range response.Donors {
			assert.Equal(t, domain.DonorStatusSuccess, donor.Status)
		}

		// Ten distinct typings across five heterozygous loci
		assert.Equal(t, int64(10), dictionary.Calls())
		assert.Equal(t, int64(1), repository.loadCalls)
	})

	t.Run("DPB1_Is_Ignored", func(t *testing.T) {
		dictionary := newFakeDictionary()
		dictionary.invalid["DPB1*bogus"] = true
		service := newTestMatchService(dictionary, referenceRepository(), testMatchConfig())

		donor := referencePhenotype().With(domain.LocusDpb1, domain.NewLocusInfo("bogus", "bogus"))
		response, err := service.CalculateMatchProbabilities(ctx, &domain.MatchProbabilityRequest{
			PatientHla:   referencePhenotype(),
			Donors:       []domain.DonorInput{{ID: "D1", Hla: donor}},
			ExcludedLoci: []domain.Locus{domain.LocusDpb1},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.DonorStatusSuccess, response.Donors[0].Status)
		assert.False(t, response.Donors[0].Result.Loci.Dpb1.IsPresent())
	})
}

func TestMatchProbabilityService_Validation(t *testing.T) {
	ctx := context.Background()
	service := newTestMatchService(newFakeDictionary(), referenceRepository(), testMatchConfig())

	tests := []struct {
		name  string
		req   *domain.MatchProbabilityRequest
		field string
	}{
		{
			name:  "no donors",
			req:   &domain.MatchProbabilityRequest{PatientHla: referencePhenotype()},
			field: "donors",
		},
		{
			name: "duplicate donor ids",
			req: &domain.MatchProbabilityRequest{
				PatientHla: referencePhenotype(),
				Donors:     []domain.DonorInput{{ID: "D1", Hla: referencePhenotype()}, {ID: "D1", Hla: referencePhenotype()}},
			},
			field: "donors[1].id",
		},
		{
			name: "required locus excluded",
			req: &domain.MatchProbabilityRequest{
				PatientHla:   referencePhenotype(),
				Donors:       []domain.DonorInput{{ID: "D1", Hla: referencePhenotype()}},
				ExcludedLoci: []domain.Locus{domain.LocusDrb1},
			},
			field: "excluded_loci",
		},
		{
			name: "patient missing required locus",
			req: &domain.MatchProbabilityRequest{
				PatientHla: referencePhenotype().With(domain.LocusA, domain.NewLocusInfo("", "")),
				Donors:     []domain.DonorInput{{ID: "D1", Hla: referencePhenotype()}},
			},
			field: "patient_hla.A",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.CalculateMatchProbabilities(ctx, tt.req)
			var validationErr *domain.ValidationError
			require.True(t, errors.As(err, &validationErr), "got %v", err)
			assert.Equal(t, tt.field, validationErr.Field)
		})
	}
}

func TestMatchProbabilityService_IdenticalDonorsKeepTheirOwnErrors(t *testing.T) {
	ctx := context.Background()
	dictionary := newFakeDictionary()
	dictionary.invalid["DRB1*99:99"] = true
	service := newTestMatchService(dictionary, referenceRepository(), testMatchConfig())

	untypedB := referencePhenotype().With(domain.LocusB, domain.NewLocusInfo("", ""))
	unresolvable := referencePhenotype().With(domain.LocusDrb1, domain.NewLocusInfo("99:99", "11:129"))

	response, err := service.CalculateMatchProbabilities(ctx, &domain.MatchProbabilityRequest{
		PatientHla: referencePhenotype(),
		Donors: []domain.DonorInput{
			{ID: "first-untyped", Hla: untypedB},
			{ID: "second-untyped", Hla: untypedB},
			{ID: "first-invalid", Hla: unresolvable},
			{ID: "second-invalid", Hla: unresolvable},
		},
	})
	require.NoError(t, err)

	donors := donorsByID(response)
	for _, id := range []string{"first-untyped", "second-untyped"} {
		assert.Equal(t, domain.DonorStatusInvalidInput, donors[id].Status)
		assert.Contains(t, donors[id].Error, "donors["+id+"].hla.B")
	}
	for _, id := range []string{"first-invalid", "second-invalid"} {
		assert.Equal(t, domain.DonorStatusResolutionFailed, donors[id].Status)
		assert.Contains(t, donors[id].Error, "for donor "+id)
	}
	assert.NotContains(t, donors["second-invalid"].Error, "first-invalid")
}

func TestMatchProbabilityService_MatchDetails(t *testing.T) {
	ctx := context.Background()

	t.Run("Listed_When_Requested", func(t *testing.T) {
		service := newTestMatchService(newFakeDictionary(), referenceRepository(), testMatchConfig())

		response, err := service.CalculateMatchProbabilities(ctx, &domain.MatchProbabilityRequest{
			PatientHla:          referencePhenotype(),
			Donors:              []domain.DonorInput{{ID: "D1", Hla: referencePhenotype()}},
			IncludeMatchDetails: true,
		})
		require.NoError(t, err)

		donor := response.Donors[0]
		require.Equal(t, domain.DonorStatusSuccess, donor.Status)
		require.Len(t, donor.MatchDetails, 1)
		assert.False(t, donor.MatchDetailsOmitted)
		assert.Equal(t, 10, donor.MatchDetails[0].TotalMatchCount())
		assert.InDelta(t, 1.0, donor.MatchDetails[0].JointLikelihood(), 1e-12)
		assert.False(t, donor.MatchDetails[0].MatchCounts.Dpb1.IsPresent())
	})

	t.Run("Absent_By_Default", func(t *testing.T) {
		service := newTestMatchService(newFakeDictionary(), referenceRepository(), testMatchConfig())

		response, err := service.CalculateMatchProbabilities(ctx, &domain.MatchProbabilityRequest{
			PatientHla: referencePhenotype(),
			Donors:     []domain.DonorInput{{ID: "D1", Hla: referencePhenotype()}},
		})
		require.NoError(t, err)
		assert.Nil(t, response.Donors[0].MatchDetails)
		assert.False(t, response.Donors[0].MatchDetailsOmitted)
	})
}

func TestMatchProbabilityService_UntypedLocusPolicy(t *testing.T) {
	ctx := context.Background()
	untypedC := referencePhenotype().With(domain.LocusC, domain.NewLocusInfo("", ""))

	t.Run("Auto_Exclude", func(t *testing.T) {
		service := newTestMatchService(newFakeDictionary(), referenceRepository(), testMatchConfig())

		response, err := service.CalculateMatchProbabilities(ctx, &domain.MatchProbabilityRequest{
			PatientHla: untypedC,
			Donors:     []domain.DonorInput{{ID: "D1", Hla: referencePhenotype()}},
		})
		require.NoError(t, err)
		result := response.Donors[0].Result
		require.NotNil(t, result)
		assert.False(t, result.Loci.C.IsPresent())
		assert.Len(t, result.IncludedLoci, 4)
	})

	t.Run("Require_Explicit", func(t *testing.T) {
		config := testMatchConfig()
		config.UntypedLocusPolicy = domain.UntypedLocusRequireExplicit
		service := newTestMatchService(newFakeDictionary(), referenceRepository(), config)

		_, err := service.CalculateMatchProbabilities(ctx, &domain.MatchProbabilityRequest{
			PatientHla: untypedC,
			Donors:     []domain.DonorInput{{ID: "D1", Hla: referencePhenotype()}},
		})
		var validationErr *domain.ValidationError
		require.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "patient_hla.C", validationErr.Field)

		response, err := service.CalculateMatchProbabilities(ctx, &domain.MatchProbabilityRequest{
			PatientHla:   untypedC,
			Donors:       []domain.DonorInput{{ID: "D1", Hla: referencePhenotype()}},
			ExcludedLoci: []domain.Locus{domain.LocusC},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.DonorStatusSuccess, response.Donors[0].Status)
	})
}

func TestMatchProbabilityService_BatchTimeout(t *testing.T) {
	ctx := context.Background()
	dictionary := newFakeDictionary()
	dictionary.slow["A*slow"] = true

	config := testMatchConfig()
	config.DonorWorkers = 1
	config.BatchTimeout = 50 * time.Millisecond
	service := newTestMatchService(dictionary, referenceRepository(), config)

	response, err := service.CalculateMatchProbabilities(ctx, &domain.MatchProbabilityRequest{
		PatientHla: referencePhenotype(),
		Donors: []domain.DonorInput{
			{ID: "fast", Hla: referencePhenotype()},
			{ID: "slow", Hla: referencePhenotype().With(domain.LocusA, domain.NewLocusInfo("slow", "02:66"))},
			{ID: "unstarted", Hla: referencePhenotype().With(domain.LocusB, domain.NewLocusInfo("08:182", "08:182"))},
		},
	})
	require.NoError(t, err)

	donors := donorsByID(response)
	assert.Equal(t, domain.DonorStatusSuccess, donors["fast"].Status, "completed donors are retained")
	assert.Equal(t, domain.DonorStatusCancelled, donors["slow"].Status)
	assert.Equal(t, domain.DonorStatusCancelled, donors["unstarted"].Status)
}

func TestMatchProbabilityService_CalculateGenotypeLikelihoods(t *testing.T) {
	ctx := context.Background()
	dictionary, repository, typing := ambiguousAFixture()
	service := newTestMatchService(dictionary, repository, testMatchConfig())

	result, err := service.CalculateGenotypeLikelihoods(ctx, domain.SubjectInput{Hla: typing}, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "3.33.0", result.NomenclatureVersion)
	assert.Len(t, result.Likelihoods, 2)

	sorted := result.Sorted()
	assert.InDelta(t, 0.75, sorted[0].Likelihood, 1e-12)
	assert.InDelta(t, 0.25, sorted[1].Likelihood, 1e-12)
}

func TestDonorStatus(t *testing.T) {
	tests := []struct {
		err      error
		expected domain.DonorPredictionStatus
	}{
		{nil, domain.DonorStatusSuccess},
		{context.DeadlineExceeded, domain.DonorStatusCancelled},
		{domain.ErrPredictionImpossible, domain.DonorStatusPredictionImpossible},
		{&domain.HlaResolutionError{Subject: "donor D1", Err: errors.New("bad")}, domain.DonorStatusResolutionFailed},
		{&domain.CombinatorialOverflowError{Count: 10, Limit: 5}, domain.DonorStatusTooAmbiguous},
		{&domain.FrequencySetNotFoundError{RegistryCode: "X"}, domain.DonorStatusFrequencySetUnavailable},
		{domain.NewValidationError("hla", "bad", nil), domain.DonorStatusInvalidInput},
		{errors.New("boom"), domain.DonorStatusFailed},
	}

	for _, tt := range tests {
		t.Run(string(tt.expected), func(t *testing.T) {
			assert.Equal(t, tt.expected, DonorStatus(tt.err))
		})
	}
}
