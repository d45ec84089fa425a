package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Locus identifies one HLA gene
type Locus int

const (
	LocusA Locus = iota
	LocusB
	LocusC
	LocusDpb1
	LocusDqb1
	LocusDrb1
)

// AllLoci lists every locus a typing may carry, in canonical order.
var AllLoci = []Locus{LocusA, LocusB, LocusC, LocusDpb1, LocusDqb1, LocusDrb1}

// MatchPredictionLoci are the loci covered by the haplotype frequency model.
// DPB1 is excluded because of its weak linkage to the other loci.
var MatchPredictionLoci = []Locus{LocusA, LocusB, LocusC, LocusDqb1, LocusDrb1}

// RequiredLoci must be typed for every subject.
var RequiredLoci = []Locus{LocusA, LocusB, LocusDrb1}

var locusNames = map[Locus]string{
	LocusA:    "A",
	LocusB:    "B",
	LocusC:    "C",
	LocusDpb1: "DPB1",
	LocusDqb1: "DQB1",
	LocusDrb1: "DRB1",
}

// String returns the locus name
func (l Locus) String() string {
	if name, ok := locusNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Locus(%d)", int(l))
}

// IsMatchPredictionLocus reports whether the locus takes part in the frequency model
func (l Locus) IsMatchPredictionLocus() bool {
	return l != LocusDpb1 && l >= LocusA && l <= LocusDrb1
}

// ParseLocus parses a locus name, ignoring case and an optional "HLA-" prefix
func ParseLocus(s string) (Locus, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "HLA-")
	for locus, n := range locusNames {
		if n == name {
			return locus, nil
		}
	}
	return 0, NewValidationError("locus", "unknown locus", s)
}

// MarshalJSON encodes the locus by name
func (l Locus) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a locus name
func (l *Locus) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLocus(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// LocusPosition is one of the two inherited copies at a locus
type LocusPosition int

const (
	PositionOne LocusPosition = iota + 1
	PositionTwo
)

// String returns the position name
func (p LocusPosition) String() string {
	switch p {
	case PositionOne:
		return "One"
	case PositionTwo:
		return "Two"
	default:
		return fmt.Sprintf("LocusPosition(%d)", int(p))
	}
}

// LocusSet is a set of loci
type LocusSet map[Locus]struct{}

// NewLocusSet builds a set from the given loci
func NewLocusSet(loci ...Locus) LocusSet {
	set := make(LocusSet, len(loci))
	for _, l := range loci {
		set[l] = struct{}{}
	}
	return set
}

// Contains reports whether the locus is in the set. A nil set is empty.
func (s LocusSet) Contains(l Locus) bool {
	_, ok := s[l]
	return ok
}

// Slice returns the loci in canonical order
func (s LocusSet) Slice() []Locus {
	loci := make([]Locus, 0, len(s))
	for l := range s {
		loci = append(loci, l)
	}
	sort.Slice(loci, func(i, j int) bool { return loci[i] < loci[j] })
	return loci
}

// ParseLocusSet parses a list of locus names
func ParseLocusSet(names []string) (LocusSet, error) {
	set := make(LocusSet, len(names))
	for _, n := range names {
		l, err := ParseLocus(n)
		if err != nil {
			return nil, err
		}
		set[l] = struct{}{}
	}
	return set, nil
}
