package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/hla-match-prediction/internal/domain"
)

// defaultGenotypeLimit caps the genotypes listed by calculate_genotype_likelihood
const defaultGenotypeLimit = 20

// LocusTypingArgs is the typing at one locus. An empty position is untyped.
type LocusTypingArgs struct {
	Position1 string `json:"position1,omitempty" jsonschema:"typing at the first position, e.g. 02:01, 02:XX, 02:ABCD or 2"`
	Position2 string `json:"position2,omitempty" jsonschema:"typing at the second position"`
}

// PhenotypeArgs is a subject's HLA typing. DPB1 is accepted but never used for matching.
type PhenotypeArgs struct {
	A    LocusTypingArgs `json:"A,omitempty"`
	B    LocusTypingArgs `json:"B,omitempty"`
	C    LocusTypingArgs `json:"C,omitempty"`
	DPB1 LocusTypingArgs `json:"DPB1,omitempty"`
	DQB1 LocusTypingArgs `json:"DQB1,omitempty"`
	DRB1 LocusTypingArgs `json:"DRB1,omitempty"`
}

func (p PhenotypeArgs) toDomain() domain.PhenotypeInfo[string] {
	info := func(l LocusTypingArgs) domain.LocusInfo[string] {
		return domain.NewLocusInfo(l.Position1, l.Position2)
	}
	return domain.PhenotypeInfo[string]{
		A:    info(p.A),
		B:    info(p.B),
		C:    info(p.C),
		Dpb1: info(p.DPB1),
		Dqb1: info(p.DQB1),
		Drb1: info(p.DRB1),
	}
}

// DonorArgs is one donor of a match probability request
type DonorArgs struct {
	ID        string        `json:"id" jsonschema:"donor identifier, unique within the request"`
	Hla       PhenotypeArgs `json:"hla"`
	Registry  string        `json:"registry,omitempty" jsonschema:"registry code used to select the frequency set"`
	Ethnicity string        `json:"ethnicity,omitempty" jsonschema:"ethnicity code used to select the frequency set"`
}

// MatchProbabilityArgs defines parameters for calculate_match_probability
type MatchProbabilityArgs struct {
	PatientHla          PhenotypeArgs `json:"patient_hla"`
	PatientRegistry     string        `json:"patient_registry,omitempty"`
	PatientEthnicity    string        `json:"patient_ethnicity,omitempty"`
	Donors              []DonorArgs   `json:"donors"`
	ExcludedLoci        []string      `json:"excluded_loci,omitempty" jsonschema:"loci left out of the calculation: A, B, C, DQB1 or DRB1"`
	NomenclatureVersion string        `json:"nomenclature_version,omitempty"`
	IncludeMatchDetails bool          `json:"include_match_details,omitempty" jsonschema:"list every patient/donor genotype pairing for small distributions"`
}

// GenotypeLikelihoodArgs defines parameters for calculate_genotype_likelihood
type GenotypeLikelihoodArgs struct {
	Hla                 PhenotypeArgs `json:"hla"`
	Registry            string        `json:"registry,omitempty"`
	Ethnicity           string        `json:"ethnicity,omitempty"`
	ExcludedLoci        []string      `json:"excluded_loci,omitempty"`
	NomenclatureVersion string        `json:"nomenclature_version,omitempty"`
	Limit               int           `json:"limit,omitempty" jsonschema:"maximum number of genotypes listed, most likely first"`
}

// ListFrequencySetsArgs defines parameters for list_frequency_sets
type ListFrequencySetsArgs struct {
	Registry  string `json:"registry,omitempty" jsonschema:"when set with or without ethnicity, show only the set selected for this population"`
	Ethnicity string `json:"ethnicity,omitempty"`
}

// ImportFrequencySetArgs defines parameters for import_frequency_set
type ImportFrequencySetArgs struct {
	Path string `json:"path" jsonschema:"path of a frequency set JSON export"`
}

// ExportFrequencySetArgs defines parameters for export_frequency_set
type ExportFrequencySetArgs struct {
	SetID int64 `json:"set_id"`
}

// GenotypeLikelihoodResult is the output of calculate_genotype_likelihood
type GenotypeLikelihoodResult struct {
	*domain.GenotypeLikelihoods
	GenotypeCount int                       `json:"genotype_count"`
	Truncated     bool                      `json:"truncated"`
	Genotypes     []GenotypeLikelihoodEntry `json:"genotypes"`
}

// GenotypeLikelihoodEntry renders one genotype compactly
type GenotypeLikelihoodEntry struct {
	Genotype   string  `json:"genotype"`
	Likelihood float64 `json:"likelihood"`
}

// FrequencySetTransferResult reports an import or export
type FrequencySetTransferResult struct {
	Set     *domain.HaplotypeFrequencySet `json:"set,omitempty"`
	Path    string                        `json:"path"`
	Message string                        `json:"message"`
}

func parseExcludedLoci(names []string) ([]domain.Locus, error) {
	loci := make([]domain.Locus, 0, len(names))
	for i, name := range names {
		locus, err := domain.ParseLocus(name)
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("excluded_loci[%d]", i), err.Error(), name)
		}
		loci = append(loci, locus)
	}
	return loci, nil
}

// handleMatchProbability handles the calculate_match_probability tool
func (s *Server) handleMatchProbability(ctx context.Context, _ *mcp.CallToolRequest, args MatchProbabilityArgs) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{
		"tool":        "calculate_match_probability",
		"donor_count": len(args.Donors),
	}).Info("Tool invoked")

	excluded, err := parseExcludedLoci(args.ExcludedLoci)
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}

	req := &domain.MatchProbabilityRequest{
		PatientHla: args.PatientHla.toDomain(),
		PatientFrequencySet: domain.FrequencySetSelector{
			RegistryCode:  args.PatientRegistry,
			EthnicityCode: args.PatientEthnicity,
		},
		Donors:              make([]domain.DonorInput, len(args.Donors)),
		ExcludedLoci:        excluded,
		NomenclatureVersion: args.NomenclatureVersion,
		IncludeMatchDetails: args.IncludeMatchDetails,
	}
	for i, donor := range args.Donors {
		req.Donors[i] = domain.DonorInput{
			ID:           donor.ID,
			Hla:          donor.Hla.toDomain(),
			FrequencySet: domain.FrequencySetSelector{RegistryCode: donor.Registry, EthnicityCode: donor.Ethnicity},
		}
	}

	resp, err := s.predictor.CalculateMatchProbabilities(ctx, req)
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}
	return s.createJSONResult(resp)
}

// handleGenotypeLikelihood handles the calculate_genotype_likelihood tool
func (s *Server) handleGenotypeLikelihood(ctx context.Context, _ *mcp.CallToolRequest, args GenotypeLikelihoodArgs) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "calculate_genotype_likelihood").Info("Tool invoked")

	if args.Limit < 0 {
		return s.createErrorResult(domain.NewValidationError("limit", "limit must not be negative", args.Limit)), nil, nil
	}
	limit := args.Limit
	if limit == 0 {
		limit = defaultGenotypeLimit
	}

	excluded, err := parseExcludedLoci(args.ExcludedLoci)
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}

	subject := domain.SubjectInput{
		Label:        "subject",
		Hla:          args.Hla.toDomain(),
		FrequencySet: domain.FrequencySetSelector{RegistryCode: args.Registry, EthnicityCode: args.Ethnicity},
	}
	likelihoods, err := s.predictor.CalculateGenotypeLikelihoods(ctx, subject, excluded, args.NomenclatureVersion)
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}

	sorted := likelihoods.Sorted()
	result := GenotypeLikelihoodResult{
		GenotypeLikelihoods: likelihoods,
		GenotypeCount:       len(sorted),
		Truncated:           len(sorted) > limit,
	}
	if result.Truncated {
		sorted = sorted[:limit]
	}
	result.Genotypes = make([]GenotypeLikelihoodEntry, len(sorted))
	for i, entry := range sorted {
		result.Genotypes[i] = GenotypeLikelihoodEntry{
			Genotype:   domain.GenotypeString(entry.Genotype),
			Likelihood: entry.Likelihood,
		}
	}
	return s.createJSONResult(result)
}

// handleListFrequencySets handles the list_frequency_sets tool
func (s *Server) handleListFrequencySets(ctx context.Context, _ *mcp.CallToolRequest, args ListFrequencySetsArgs) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "list_frequency_sets").Info("Tool invoked")

	if args.Registry != "" || args.Ethnicity != "" {
		set, err := s.store.SelectActiveSet(ctx, args.Registry, args.Ethnicity)
		if err != nil {
			return s.createErrorResult(err), nil, nil
		}
		return s.createJSONResult(set)
	}

	sets, err := s.store.ListSets(ctx)
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}
	return s.createJSONResult(map[string]interface{}{
		"count": len(sets),
		"sets":  sets,
	})
}

// handleImportFrequencySet handles the import_frequency_set tool
func (s *Server) handleImportFrequencySet(ctx context.Context, _ *mcp.CallToolRequest, args ImportFrequencySetArgs) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{
		"tool": "import_frequency_set",
		"path": args.Path,
	}).Info("Tool invoked")

	if args.Path == "" {
		return s.createErrorResult(domain.NewValidationError("path", "path is required", nil)), nil, nil
	}

	file, err := os.Open(args.Path)
	if err != nil {
		return s.createErrorResult(fmt.Errorf("failed to open import file: %w", err)), nil, nil
	}
	defer file.Close()

	set, err := s.store.ImportJSON(ctx, file)
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}

	return s.createJSONResult(FrequencySetTransferResult{
		Set:     set,
		Path:    args.Path,
		Message: fmt.Sprintf("Imported frequency set %d (%s)", set.ID, set.Name),
	})
}

// handleExportFrequencySet handles the export_frequency_set tool
func (s *Server) handleExportFrequencySet(ctx context.Context, _ *mcp.CallToolRequest, args ExportFrequencySetArgs) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{
		"tool":   "export_frequency_set",
		"set_id": args.SetID,
	}).Info("Tool invoked")

	if args.SetID <= 0 {
		return s.createErrorResult(domain.NewValidationError("set_id", "set_id must be positive", args.SetID)), nil, nil
	}

	filename := fmt.Sprintf("frequency_set_%d_%s.json", args.SetID, time.Now().Format("20060102_150405"))
	path := filepath.Join(s.exportDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return s.createErrorResult(fmt.Errorf("failed to create export file: %w", err)), nil, nil
	}
	exportErr := s.store.ExportJSON(ctx, args.SetID, file)
	closeErr := file.Close()
	if err := errors.Join(exportErr, closeErr); err != nil {
		_ = os.Remove(path)
		return s.createErrorResult(err), nil, nil
	}

	return s.createJSONResult(FrequencySetTransferResult{
		Path:    path,
		Message: fmt.Sprintf("Exported frequency set %d to %s", args.SetID, path),
	})
}

// createJSONResult renders v as indented JSON text content
func (s *Server) createJSONResult(v interface{}) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}

// createErrorResult reports a failed call to the client with its error code
func (s *Server) createErrorResult(err error) *mcp.CallToolResult {
	code := domain.ErrorCode(err)
	if code == domain.ErrCodeInternalServer {
		s.logger.WithError(err).Error("Tool call failed")
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Error: %s - %v", code, err)},
		},
		IsError: true,
	}
}
