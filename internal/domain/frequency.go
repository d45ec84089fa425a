package domain

import (
	"time"
)

// HaplotypeFrequencySet describes a versioned, population scoped table of
// haplotype frequencies. Empty RegistryCode/EthnicityCode mark the set as
// applying to any registry or ethnicity.
type HaplotypeFrequencySet struct {
	ID                     int64     `json:"id" db:"id"`
	Name                   string    `json:"name" db:"name"`
	RegistryCode           string    `json:"registry_code,omitempty" db:"registry_code"`
	EthnicityCode          string    `json:"ethnicity_code,omitempty" db:"ethnicity_code"`
	PopulationID           int       `json:"population_id" db:"population_id"`
	HlaNomenclatureVersion string    `json:"hla_nomenclature_version" db:"hla_nomenclature_version"`
	Active                 bool      `json:"active" db:"active"`
	CreatedAt              time.Time `json:"created_at" db:"created_at"`
}

// FrequencySetSelector carries the population codes used to pick a set
type FrequencySetSelector struct {
	RegistryCode  string `json:"registry_code,omitempty"`
	EthnicityCode string `json:"ethnicity_code,omitempty"`
}

// HaplotypeFrequencyTable is an immutable snapshot of one set's frequencies.
// It is safe for concurrent reads.
type HaplotypeFrequencyTable struct {
	Set         HaplotypeFrequencySet
	frequencies map[Haplotype]float64
}

// NewHaplotypeFrequencyTable takes ownership of the frequency map
func NewHaplotypeFrequencyTable(set HaplotypeFrequencySet, frequencies map[Haplotype]float64) *HaplotypeFrequencyTable {
	if frequencies == nil {
		frequencies = make(map[Haplotype]float64)
	}
	return &HaplotypeFrequencyTable{Set: set, frequencies: frequencies}
}

// Frequency looks up a fully typed haplotype; absent haplotypes have frequency 0
func (t *HaplotypeFrequencyTable) Frequency(h Haplotype) float64 {
	return t.frequencies[h]
}

// Len returns the number of haplotypes with a stored frequency
func (t *HaplotypeFrequencyTable) Len() int {
	return len(t.frequencies)
}

// Range calls fn for every stored haplotype until fn returns false
func (t *HaplotypeFrequencyTable) Range(fn func(Haplotype, float64) bool) {
	for h, f := range t.frequencies {
		if !fn(h, f) {
			return
		}
	}
}
