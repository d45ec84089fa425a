package domain

import "time"

// MaxMatchCountPerLocus is the number of values typed at a locus
const MaxMatchCountPerLocus = 2

// GenotypeMatchDetails pairs one patient genotype with one donor genotype
type GenotypeMatchDetails struct {
	PatientGenotype   UnambiguousGenotype   `json:"patient_genotype"`
	PatientLikelihood float64               `json:"patient_likelihood"`
	DonorGenotype     UnambiguousGenotype   `json:"donor_genotype"`
	DonorLikelihood   float64               `json:"donor_likelihood"`
	MatchCounts       LociInfo[Option[int]] `json:"match_counts"`
}

// JointLikelihood is the weight of this pairing in the cross product
func (d GenotypeMatchDetails) JointLikelihood() float64 {
	return d.PatientLikelihood * d.DonorLikelihood
}

// TotalMatchCount sums match counts over the included loci
func (d GenotypeMatchDetails) TotalMatchCount() int {
	total := 0
	for _, locus := range MatchPredictionLoci {
		total += d.MatchCounts.At(locus).OrElse(0)
	}
	return total
}

// LocusMatchProbabilities is the probability of 0, 1 and 2 matches at a locus
type LocusMatchProbabilities struct {
	ZeroMatches float64 `json:"zero_matches"`
	OneMatch    float64 `json:"one_match"`
	TwoMatches  float64 `json:"two_matches"`
}

// ByMatchCount returns the probability for the given match count
func (p LocusMatchProbabilities) ByMatchCount(count int) float64 {
	switch count {
	case 0:
		return p.ZeroMatches
	case 1:
		return p.OneMatch
	case 2:
		return p.TwoMatches
	}
	return 0
}

// MismatchProbability is the probability of at least one mismatch at the locus
func (p LocusMatchProbabilities) MismatchProbability() float64 {
	return p.ZeroMatches + p.OneMatch
}

// MatchProbabilityResult is the match grade distribution for one donor
type MatchProbabilityResult struct {
	IncludedLoci []Locus                                `json:"included_loci"`
	Loci         LociInfo[Option[LocusMatchProbabilities]] `json:"loci"`
	// MatchCountProbabilities[n] is the probability of exactly n matches
	// summed over the included loci.
	MatchCountProbabilities []float64 `json:"match_count_probabilities"`
	// MismatchCountProbabilities[n] is the probability of exactly n mismatches.
	MismatchCountProbabilities []float64 `json:"mismatch_count_probabilities"`
	ZeroMismatch               float64   `json:"zero_mismatch"`
	OneMismatch                float64   `json:"one_mismatch"`
	TwoMismatches              float64   `json:"two_mismatches"`
	PatientGenotypeCount       int       `json:"patient_genotype_count"`
	DonorGenotypeCount         int       `json:"donor_genotype_count"`
}

// DonorPredictionStatus classifies the outcome for one donor in a batch
type DonorPredictionStatus string

const (
	DonorStatusSuccess                 DonorPredictionStatus = "success"
	DonorStatusPredictionImpossible    DonorPredictionStatus = "prediction_impossible"
	DonorStatusResolutionFailed        DonorPredictionStatus = "resolution_failed"
	DonorStatusTooAmbiguous            DonorPredictionStatus = "too_ambiguous"
	DonorStatusFrequencySetUnavailable DonorPredictionStatus = "frequency_set_unavailable"
	DonorStatusInvalidInput            DonorPredictionStatus = "invalid_input"
	DonorStatusCancelled               DonorPredictionStatus = "cancelled"
	DonorStatusFailed                  DonorPredictionStatus = "failed"
)

// DonorInput is one donor of a batch request
type DonorInput struct {
	ID           string                `json:"id"`
	Hla          PhenotypeInfo[string] `json:"hla"`
	FrequencySet FrequencySetSelector  `json:"frequency_set"`
}

// MatchProbabilityRequest is a patient against a batch of donors
type MatchProbabilityRequest struct {
	RequestID           string                `json:"request_id,omitempty"`
	PatientHla          PhenotypeInfo[string] `json:"patient_hla"`
	PatientFrequencySet FrequencySetSelector  `json:"patient_frequency_set"`
	Donors              []DonorInput          `json:"donors"`
	ExcludedLoci        []Locus               `json:"excluded_loci,omitempty"`
	NomenclatureVersion string                `json:"nomenclature_version,omitempty"`
	// IncludeMatchDetails asks for every patient/donor genotype pairing of
	// small distributions alongside the aggregated result.
	IncludeMatchDetails bool `json:"include_match_details,omitempty"`
}

// DonorMatchPrediction is the outcome for one donor
type DonorMatchPrediction struct {
	DonorID        string                  `json:"donor_id"`
	Status         DonorPredictionStatus   `json:"status"`
	Result         *MatchProbabilityResult `json:"result,omitempty"`
	Error          string                  `json:"error,omitempty"`
	FrequencySetID int64                   `json:"frequency_set_id,omitempty"`
	MatchDetails   []GenotypeMatchDetails  `json:"match_details,omitempty"`
	// MatchDetailsOmitted is set when details were requested but the
	// cross product was too large to list.
	MatchDetailsOmitted bool `json:"match_details_omitted,omitempty"`
}

// MatchProbabilityResponse collects per donor outcomes
type MatchProbabilityResponse struct {
	RequestID             string                 `json:"request_id"`
	PatientGenotypeCount  int                    `json:"patient_genotype_count"`
	PatientFrequencySetID int64                  `json:"patient_frequency_set_id"`
	Donors                []DonorMatchPrediction `json:"donors"`
	ProcessingTime        string                 `json:"processing_time"`
	ProcessedAt           time.Time              `json:"processed_at"`
}

// SubjectInput is one subject's typing for a likelihood calculation
type SubjectInput struct {
	// Label names the subject in errors and logs ("patient" or a donor ID)
	Label        string
	Hla          PhenotypeInfo[string]
	FrequencySet FrequencySetSelector
}
