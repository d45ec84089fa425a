package external

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/hla-match-prediction/internal/domain"
	"github.com/hla-match-prediction/pkg/hla"
)

// StaticDictionaryData is the JSON layout of a static dictionary file
type StaticDictionaryData struct {
	NomenclatureVersion string                        `json:"nomenclature_version"`
	Loci                map[string]StaticLocusEntries `json:"loci"`
}

// StaticLocusEntries lists the known alleles of a locus plus code and
// serology expansions. Allele values resolve to their two-field group.
type StaticLocusEntries struct {
	Alleles  []string            `json:"alleles"`
	Codes    map[string][]string `json:"codes,omitempty"`
	Serology map[string][]string `json:"serology,omitempty"`
}

// StaticDictionary resolves typings from an in-memory snapshot of one
// nomenclature version. It needs no network and is used by the lite server
// and in tests.
type StaticDictionary struct {
	version string
	loci    map[domain.Locus]*staticLocus
}

type staticLocus struct {
	groups   map[string]struct{} // two-field groups of known alleles
	families map[string][]string // first field -> sorted two-field groups
	codes    map[string][]string
	serology map[string][]string
}

// LoadStaticDictionary reads a dictionary JSON file
func LoadStaticDictionary(path string) (*StaticDictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read static dictionary %s: %w", path, err)
	}
	var parsed StaticDictionaryData
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse static dictionary %s: %w", path, err)
	}
	return NewStaticDictionary(parsed)
}

// NewStaticDictionary indexes dictionary data
func NewStaticDictionary(data StaticDictionaryData) (*StaticDictionary, error) {
	d := &StaticDictionary{
		version: data.NomenclatureVersion,
		loci:    make(map[domain.Locus]*staticLocus, len(data.Loci)),
	}
	for name, entries := range data.Loci {
		locus, err := domain.ParseLocus(name)
		if err != nil {
			return nil, fmt.Errorf("static dictionary: %w", err)
		}

		l := &staticLocus{
			groups:   make(map[string]struct{}, len(entries.Alleles)),
			families: make(map[string][]string),
			codes:    make(map[string][]string, len(entries.Codes)),
			serology: make(map[string][]string, len(entries.Serology)),
		}
		for _, allele := range entries.Alleles {
			allele = hla.Normalize(allele)
			if category, err := hla.Classify(allele); err != nil || category != hla.CategorySingleAllele {
				return nil, fmt.Errorf("static dictionary: invalid allele %s*%s", name, allele)
			}
			group := hla.TwoField(allele)
			if _, ok := l.groups[group]; ok {
				continue
			}
			l.groups[group] = struct{}{}
			family := hla.FirstField(allele)
			l.families[family] = append(l.families[family], group)
		}
		for family, groups := range l.families {
			l.families[family] = hla.DistinctSorted(groups)
		}
		for code, values := range entries.Codes {
			l.codes[strings.ToUpper(hla.Normalize(code))] = hla.DistinctSorted(values)
		}
		for antigen, values := range entries.Serology {
			l.serology[hla.Normalize(antigen)] = hla.DistinctSorted(values)
		}
		d.loci[locus] = l
	}
	return d, nil
}

// Version returns the nomenclature version of the snapshot
func (d *StaticDictionary) Version() string {
	return d.version
}

// Resolve implements domain.HlaMetadataDictionary
func (d *StaticDictionary) Resolve(_ context.Context, locus domain.Locus, typing string, nomenclatureVersion string) ([]string, error) {
	invalid := func(reason string) error {
		return &domain.InvalidHlaError{Locus: locus, Typing: typing, Reason: reason}
	}

	if nomenclatureVersion != "" && d.version != "" && nomenclatureVersion != d.version {
		return nil, invalid(fmt.Sprintf("nomenclature version %s is not available (have %s)", nomenclatureVersion, d.version))
	}
	l, ok := d.loci[locus]
	if !ok {
		return nil, invalid("locus not present in dictionary")
	}

	normalized := hla.Normalize(typing)
	category, err := hla.Classify(normalized)
	if err != nil {
		return nil, invalid(err.Error())
	}

	switch category {
	case hla.CategorySingleAllele, hla.CategoryGGroup, hla.CategoryPGroup:
		group := hla.TwoField(normalized)
		if _, ok := l.groups[group]; !ok {
			return nil, invalid("unknown allele")
		}
		return []string{group}, nil

	case hla.CategoryAlleleString:
		alleles, err := hla.SplitAlleleString(normalized)
		if err != nil {
			return nil, invalid(err.Error())
		}
		var values []string
		for _, allele := range alleles {
			group := hla.TwoField(allele)
			if _, ok := l.groups[group]; !ok {
				return nil, invalid(fmt.Sprintf("unknown allele %s in allele string", allele))
			}
			values = append(values, group)
		}
		return hla.DistinctSorted(values), nil

	case hla.CategoryXxCode:
		groups := l.families[hla.FirstField(normalized)]
		if len(groups) == 0 {
			return nil, invalid("no alleles in family")
		}
		return groups, nil

	case hla.CategoryNmdpCode:
		if values, ok := l.codes[strings.ToUpper(normalized)]; ok {
			return values, nil
		}
		return nil, invalid("unknown NMDP code")

	case hla.CategorySerology:
		if values, ok := l.serology[normalized]; ok {
			return values, nil
		}
		return nil, invalid("unknown serology")
	}
	return nil, invalid("unsupported typing category")
}
