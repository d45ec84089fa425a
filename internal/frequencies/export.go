package frequencies

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/hla-match-prediction/internal/domain"
)

func writeExport(writer io.Writer, set *domain.HaplotypeFrequencySet, table *domain.HaplotypeFrequencyTable) error {
	frequencies := make([]HaplotypeFrequency, 0, table.Len())
	table.Range(func(h domain.Haplotype, f float64) bool {
		frequencies = append(frequencies, HaplotypeFrequency{Haplotype: h, Frequency: f})
		return true
	})
	sortFrequencies(frequencies)

	export := &FrequencySetExport{
		Version:     ExportFormatVersion,
		ExportedAt:  time.Now().UTC(),
		Set:         *set,
		Count:       len(frequencies),
		Frequencies: frequencies,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func readExport(reader io.Reader) (*FrequencySetExport, error) {
	var export FrequencySetExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	if export.Version != "" && export.Version != ExportFormatVersion {
		return nil, domain.NewValidationError("version", "unsupported export format version", export.Version)
	}
	// Identity and state are assigned by the importing store
	export.Set.ID = 0
	export.Set.Active = false
	export.Set.CreatedAt = time.Time{}
	return &export, nil
}

// sortFrequencies orders rows by descending frequency, then by haplotype
func sortFrequencies(frequencies []HaplotypeFrequency) {
	sort.Slice(frequencies, func(i, j int) bool {
		if frequencies[i].Frequency != frequencies[j].Frequency {
			return frequencies[i].Frequency > frequencies[j].Frequency
		}
		return frequencies[i].Haplotype.String() < frequencies[j].Haplotype.String()
	})
}
