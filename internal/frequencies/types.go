// Package frequencies stores haplotype frequency sets and selects the active
// set for a population.
package frequencies

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/hla-match-prediction/internal/domain"
)

// ExportFormatVersion is written to every export document
const ExportFormatVersion = "1.0"

// HaplotypeFrequency is one row of a frequency set
type HaplotypeFrequency struct {
	domain.Haplotype
	Frequency float64 `json:"frequency"`
}

// Store is a haplotype frequency repository that can also be written to.
type Store interface {
	domain.HaplotypeFrequencyRepository

	// ImportSet stores a new active set. An active set with the same
	// registry and ethnicity is deactivated in the same transaction.
	// set.ID, set.Active and set.CreatedAt are filled in.
	ImportSet(ctx context.Context, set *domain.HaplotypeFrequencySet, frequencies []HaplotypeFrequency) error

	// ListSets returns every set, active or not, ordered by ID.
	ListSets(ctx context.Context) ([]domain.HaplotypeFrequencySet, error)

	// ExportJSON writes one set and its frequencies.
	ExportJSON(ctx context.Context, setID int64, writer io.Writer) error

	// ImportJSON reads an export document and imports it as a new set.
	ImportJSON(ctx context.Context, reader io.Reader) (*domain.HaplotypeFrequencySet, error)

	Close() error
}

// FrequencySetExport is the JSON import/export format
type FrequencySetExport struct {
	Version     string                       `json:"version"`
	ExportedAt  time.Time                    `json:"exported_at"`
	Set         domain.HaplotypeFrequencySet `json:"set"`
	Count       int                          `json:"count"`
	Frequencies []HaplotypeFrequency         `json:"frequencies"`
}

// selectionOrder lists the selectors tried for a population: registry and
// ethnicity, then registry only, then the global set. An ethnicity without a
// registry goes straight to the global set.
func selectionOrder(registryCode, ethnicityCode string) []domain.FrequencySetSelector {
	var order []domain.FrequencySetSelector
	if registryCode != "" && ethnicityCode != "" {
		order = append(order, domain.FrequencySetSelector{RegistryCode: registryCode, EthnicityCode: ethnicityCode})
	}
	if registryCode != "" {
		order = append(order, domain.FrequencySetSelector{RegistryCode: registryCode})
	}
	return append(order, domain.FrequencySetSelector{})
}

// findActiveFunc returns the active set for an exact selector, or nil
type findActiveFunc func(ctx context.Context, selector domain.FrequencySetSelector) (*domain.HaplotypeFrequencySet, error)

func selectActiveSet(ctx context.Context, registryCode, ethnicityCode string, find findActiveFunc) (*domain.HaplotypeFrequencySet, error) {
	for _, selector := range selectionOrder(registryCode, ethnicityCode) {
		set, err := find(ctx, selector)
		if err != nil {
			return nil, fmt.Errorf("failed to select frequency set: %w", err)
		}
		if set != nil {
			return set, nil
		}
	}
	return nil, &domain.FrequencySetNotFoundError{RegistryCode: registryCode, EthnicityCode: ethnicityCode}
}

// validateImport checks a set before it is written and trims its codes
func validateImport(set *domain.HaplotypeFrequencySet, frequencies []HaplotypeFrequency) error {
	if set == nil {
		return domain.NewValidationError("set", "frequency set is required", nil)
	}
	set.Name = strings.TrimSpace(set.Name)
	set.RegistryCode = strings.TrimSpace(set.RegistryCode)
	set.EthnicityCode = strings.TrimSpace(set.EthnicityCode)
	set.HlaNomenclatureVersion = strings.TrimSpace(set.HlaNomenclatureVersion)

	if set.Name == "" {
		return domain.NewValidationError("set.name", "name is required", set.Name)
	}
	if set.HlaNomenclatureVersion == "" {
		return domain.NewValidationError("set.hla_nomenclature_version", "nomenclature version is required", nil)
	}
	if set.EthnicityCode != "" && set.RegistryCode == "" {
		return domain.NewValidationError("set.ethnicity_code", "an ethnicity scoped set needs a registry", set.EthnicityCode)
	}
	if len(frequencies) == 0 {
		return domain.NewValidationError("frequencies", "at least one haplotype frequency is required", nil)
	}

	seen := make(map[domain.Haplotype]struct{}, len(frequencies))
	for i, f := range frequencies {
		for _, locus := range domain.MatchPredictionLoci {
			if strings.TrimSpace(f.At(locus)) == "" {
				return domain.NewValidationError(fmt.Sprintf("frequencies[%d].%s", i, locus), "haplotypes must be typed at every locus", nil)
			}
		}
		if math.IsNaN(f.Frequency) || f.Frequency <= 0 || f.Frequency > 1 {
			return domain.NewValidationError(fmt.Sprintf("frequencies[%d].frequency", i), "frequency must be in (0, 1]", f.Frequency)
		}
		if _, ok := seen[f.Haplotype]; ok {
			return domain.NewValidationError(fmt.Sprintf("frequencies[%d]", i), "duplicate haplotype "+f.Haplotype.String(), nil)
		}
		seen[f.Haplotype] = struct{}{}
	}
	return nil
}
